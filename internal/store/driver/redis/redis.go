// Package redis implements the store.Cache interface on a Redis-protocol
// backend. The deployment target is KeyDB, which speaks the same protocol,
// so the standard go-redis client works unchanged.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talkie-project/talkie/pkg/store"
)

// Config represents the Redis/KeyDB cache configuration
type Config struct {
	// Address is the host:port of the KeyDB server
	Address string `yaml:"address"`

	// Password is the optional server password
	Password string `yaml:"password"`

	// Database is the database number
	Database int `yaml:"database"`

	// Timeout applies to dial, read and write operations
	Timeout time.Duration `yaml:"timeout"`

	// KeyPrefix is prepended to every key stored by this instance
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Address:  "localhost:6379",
		Database: 0,
		Timeout:  5 * time.Second,
	}
}

// Cache implements store.Cache backed by KeyDB.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a new KeyDB-backed cache and verifies connectivity.
func New(config *Config) (*Cache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Address == "" {
		return nil, fmt.Errorf("keydb address is required")
	}

	opts := &redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.Timeout > 0 {
		opts.DialTimeout = config.Timeout
		opts.ReadTimeout = config.Timeout
		opts.WriteTimeout = config.Timeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to keydb: %w", err)
	}

	return &Cache{
		client:    client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

func (c *Cache) key(key string) string {
	if c.keyPrefix == "" {
		return key
	}
	return c.keyPrefix + ":" + key
}

// Get retrieves a value by key, returning nil when the key is absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return []byte(result), nil
}

// Set stores a value by key with the given TTL. A zero TTL stores without
// expiration.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Exists checks whether a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return n > 0, nil
}

// Expire sets the TTL of an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Expire(ctx, c.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire key %s: %w", key, err)
	}
	return nil
}

// Ping tests the connection to the KeyDB server.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("keydb ping failed: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

var _ store.Cache = (*Cache)(nil)
