package client

import "fmt"

// NoEndpointsError is returned when no endpoint for the target module
// could be selected, either because none were configured or because
// service discovery returned an empty set.
type NoEndpointsError struct {
	Module string
}

func (e *NoEndpointsError) Error() string {
	return fmt.Sprintf("no endpoints available for module %q", e.Module)
}

// APIError is a non-2xx response from a module server. Code and Message
// carry the server's error envelope when it sent one.
type APIError struct {
	Module     string
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("module %s returned %d from %s: %s", e.Module, e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("module %s returned %d from %s", e.Module, e.StatusCode, e.Endpoint)
}

// Retryable reports whether the response indicates a transient server
// condition. Client errors other than 429 are not retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
