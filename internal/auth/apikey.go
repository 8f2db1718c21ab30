// Package auth validates credentials on inbound module server requests.
// Module clients attach a static API key via X-API-Key or a bearer token;
// deployments that mint JWTs for their clients can use the JWT validator
// instead.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidCredentials is returned when a request carries no valid
// credential.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Validator checks the credentials of an inbound request.
type Validator interface {
	// ValidateRequest returns nil when the request is authenticated
	ValidateRequest(r *http.Request) error
}

// APIKeyValidator accepts a static API key presented either as an
// X-API-Key header or as an Authorization bearer token.
type APIKeyValidator struct {
	hashedKey [sha256.Size]byte
}

// NewAPIKeyValidator creates a validator for the given key. The key is
// stored hashed so comparisons are constant-time.
func NewAPIKeyValidator(apiKey string) *APIKeyValidator {
	return &APIKeyValidator{hashedKey: sha256.Sum256([]byte(apiKey))}
}

// ValidateRequest checks X-API-Key and Authorization: Bearer credentials.
func (v *APIKeyValidator) ValidateRequest(r *http.Request) error {
	if key := r.Header.Get("X-API-Key"); key != "" && v.matches(key) {
		return nil
	}

	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") && v.matches(strings.TrimPrefix(authz, "Bearer ")) {
		return nil
	}
	return ErrInvalidCredentials
}

func (v *APIKeyValidator) matches(candidate string) bool {
	hashed := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(hashed[:], v.hashedKey[:]) == 1
}
