package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newRequest(t *testing.T, headers map[string]string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://localhost/api/process", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAPIKeyValidator(t *testing.T) {
	v := NewAPIKeyValidator("secret-key")

	tests := []struct {
		name    string
		headers map[string]string
		wantErr bool
	}{
		{"valid x-api-key", map[string]string{"X-API-Key": "secret-key"}, false},
		{"valid bearer", map[string]string{"Authorization": "Bearer secret-key"}, false},
		{"wrong key", map[string]string{"X-API-Key": "wrong"}, true},
		{"wrong bearer", map[string]string{"Authorization": "Bearer wrong"}, true},
		{"missing credentials", nil, true},
		{"basic auth ignored", map[string]string{"Authorization": "Basic c2VjcmV0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRequest(newRequest(t, tt.headers))
			if tt.wantErr && err == nil {
				t.Errorf("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected nil error, got %v", err)
			}
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return raw
}

func TestJWTValidator(t *testing.T) {
	v := NewJWTValidator("jwt-secret", "talkie")

	valid := signToken(t, "jwt-secret", jwt.MapClaims{
		"iss": "talkie",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signToken(t, "jwt-secret", jwt.MapClaims{
		"iss": "talkie",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := signToken(t, "jwt-secret", jwt.MapClaims{
		"iss": "other",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongSecret := signToken(t, "another-secret", jwt.MapClaims{
		"iss": "talkie",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noExpiry := signToken(t, "jwt-secret", jwt.MapClaims{"iss": "talkie"})

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", valid, false},
		{"expired token", expired, true},
		{"wrong issuer", wrongIssuer, true},
		{"wrong secret", wrongSecret, true},
		{"missing expiry", noExpiry, true},
		{"garbage", "not-a-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateToken(tt.token)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected nil error, got %v", err)
			}
		})
	}
}

func TestJWTValidatorRequest(t *testing.T) {
	v := NewJWTValidator("jwt-secret", "")

	valid := signToken(t, "jwt-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if err := v.ValidateRequest(newRequest(t, map[string]string{"Authorization": "Bearer " + valid})); err != nil {
		t.Errorf("Expected nil error for valid bearer, got %v", err)
	}

	err := v.ValidateRequest(newRequest(t, nil))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}
