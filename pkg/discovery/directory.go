package discovery

import (
	"context"
	"fmt"
)

// Directory defines the interface for the authoritative service directory.
// Module servers register themselves with the directory and clients resolve
// module names to live instances through it. Implementations live under
// internal/discovery/driver.
type Directory interface {
	// Register registers a service instance with the directory
	Register(ctx context.Context, reg *Registration) error

	// Deregister removes a service instance from the directory
	Deregister(ctx context.Context, instanceID string) error

	// ListHealthy returns the healthy instances of a service, optionally
	// filtered by tag (empty tag matches all instances)
	ListHealthy(ctx context.Context, service, tag string) ([]*ServiceInstance, error)

	// Close closes the directory client and releases resources
	Close() error
}

// ServiceInstance represents one live instance of a module service.
type ServiceInstance struct {
	// ID is the unique identifier of the service instance
	ID string `json:"id"`

	// Service is the name of the module service (e.g. "speech", "rag")
	Service string `json:"service"`

	// Address is the hostname or IP address of the instance
	Address string `json:"address"`

	// Port is the port number of the instance
	Port int `json:"port"`

	// Tags classify the instance (e.g. "talkie", "module")
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional instance metadata (version, metrics path)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// URL builds the base URL of the instance for the given protocol.
func (si *ServiceInstance) URL(protocol string) string {
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, si.Address, si.Port)
}

// HasTag reports whether the instance carries the given tag.
func (si *ServiceInstance) HasTag(tag string) bool {
	for _, t := range si.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Registration describes a service instance to register with the directory.
type Registration struct {
	// Service is the module service name
	Service string `json:"service"`

	// ID is the unique instance identifier
	ID string `json:"id"`

	// Address is the address the instance is reachable at
	Address string `json:"address"`

	// Port is the port the instance listens on
	Port int `json:"port"`

	// HealthCheckURL is polled by the directory (or healthbeat) for liveness
	HealthCheckURL string `json:"health_check_url,omitempty"`

	// Tags classify the instance
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional instance metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Instance converts the registration into its directory listing form.
func (r *Registration) Instance() *ServiceInstance {
	return &ServiceInstance{
		ID:       r.ID,
		Service:  r.Service,
		Address:  r.Address,
		Port:     r.Port,
		Tags:     r.Tags,
		Metadata: r.Metadata,
	}
}
