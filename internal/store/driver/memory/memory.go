// Package memory implements the store.Cache interface in process memory.
// It carries the same TTL semantics as the KeyDB driver and serves tests
// and single-process deployments that run without a cache server.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiration
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is an in-memory store.Cache implementation. Expired entries are
// dropped lazily on access and swept by an optional janitor.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopCh  chan struct{}
	once    sync.Once
}

// New creates a new in-memory cache. When cleanupInterval is positive a
// background janitor sweeps expired entries; otherwise expiry is lazy only.
func New(cleanupInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// Get retrieves a value by key, returning nil when absent or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a value by key with the given TTL. A zero TTL stores without
// expiration.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// Exists checks whether a key exists and is not expired.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Expire sets the TTL of an existing key.
func (c *Cache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Ping always succeeds for the in-memory cache.
func (c *Cache) Ping(_ context.Context) error {
	return nil
}

// Close stops the janitor and drops all entries.
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	return nil
}
