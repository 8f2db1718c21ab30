package store

import (
	"context"
	"time"
)

// Cache defines the interface for the fast TTL-bound key-value tier consumed
// by the service registry. Entries are a performance optimization only:
// implementations may lose data at any time and callers must treat absence
// as a cache miss, never as an error condition.
type Cache interface {
	// Get retrieves a value by key
	// Returns nil if the key doesn't exist or has expired
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value by key with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes one or more keys
	Delete(ctx context.Context, keys ...string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets the TTL of an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping tests the connection to the cache backend
	Ping(ctx context.Context) error

	// Close closes the cache connection and releases resources
	Close() error
}
