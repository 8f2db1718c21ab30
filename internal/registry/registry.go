// Package registry combines the authoritative service directory with a fast
// TTL cache into the two-tier discovery model used by module clients.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/talkie-project/talkie/pkg/discovery"
	"github.com/talkie-project/talkie/pkg/store"
)

// DefaultCacheTTL is the cache entry lifetime when none is configured.
const DefaultCacheTTL = 30 * time.Second

// Registry resolves service names to live endpoints, consulting the cache
// tier first and the authoritative directory on a miss.
//
// The cache is strictly a performance optimization: cache failures of any
// kind are logged and treated as misses, while directory failures propagate
// to the caller. Absence or staleness of a cache entry can cost an extra
// directory lookup but never wrong results.
type Registry struct {
	directory discovery.Directory
	cache     store.Cache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// New creates a registry over the given directory and cache. A zero ttl
// selects DefaultCacheTTL.
func New(directory discovery.Directory, cache store.Cache, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		directory: directory,
		cache:     cache,
		cacheTTL:  ttl,
		logger:    logger,
	}
}

func urlsKey(service, tag string) string {
	if tag == "" {
		tag = "default"
	}
	return fmt.Sprintf("service:%s:%s:urls", service, tag)
}

func instancesKey(service, tag string) string {
	if tag == "" {
		tag = "default"
	}
	return fmt.Sprintf("service:%s:%s:instances", service, tag)
}

func healthKey(instanceID string) string {
	return "health:" + instanceID
}

// HealthyServiceURLs resolves a service name to the base URLs of its healthy
// instances.
func (r *Registry) HealthyServiceURLs(ctx context.Context, service, tag, protocol string) ([]string, error) {
	key := urlsKey(service, tag)

	var cached []string
	if r.readCache(ctx, key, &cached) && len(cached) > 0 {
		r.logger.Debug("service url cache hit", zap.String("service", service))
		return cached, nil
	}

	r.logger.Debug("service url cache miss, querying directory", zap.String("service", service))
	instances, err := r.directory.ListHealthy(ctx, service, tag)
	if err != nil {
		return nil, fmt.Errorf("directory lookup for %s failed: %w", service, err)
	}

	urls := make([]string, 0, len(instances))
	for _, inst := range instances {
		urls = append(urls, inst.URL(protocol))
	}
	if len(urls) > 0 {
		r.writeCache(ctx, key, urls)
	}
	return urls, nil
}

// HealthyServices resolves a service name to its healthy instances.
func (r *Registry) HealthyServices(ctx context.Context, service, tag string) ([]*discovery.ServiceInstance, error) {
	key := instancesKey(service, tag)

	var cached []*discovery.ServiceInstance
	if r.readCache(ctx, key, &cached) && len(cached) > 0 {
		r.logger.Debug("service instance cache hit", zap.String("service", service))
		return cached, nil
	}

	r.logger.Debug("service instance cache miss, querying directory", zap.String("service", service))
	instances, err := r.directory.ListHealthy(ctx, service, tag)
	if err != nil {
		return nil, fmt.Errorf("directory lookup for %s failed: %w", service, err)
	}

	if len(instances) > 0 {
		r.writeCache(ctx, key, instances)
	}
	return instances, nil
}

// CacheHealthStatus stores the observed health status of a service instance.
// A zero ttl selects the registry's configured TTL.
func (r *Registry) CacheHealthStatus(ctx context.Context, instanceID, status string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.cacheTTL
	}
	if err := r.cache.Set(ctx, healthKey(instanceID), []byte(status), ttl); err != nil {
		r.logger.Debug("failed to cache health status",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}

// CachedHealthStatus returns the cached health status of a service instance,
// or "" when none is cached.
func (r *Registry) CachedHealthStatus(ctx context.Context, instanceID string) string {
	value, err := r.cache.Get(ctx, healthKey(instanceID))
	if err != nil {
		r.logger.Debug("failed to read cached health status",
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return ""
	}
	return string(value)
}

// InvalidateCache proactively deletes the cached url and instance lists for
// a service/tag pair.
func (r *Registry) InvalidateCache(ctx context.Context, service, tag string) {
	if err := r.cache.Delete(ctx, urlsKey(service, tag), instancesKey(service, tag)); err != nil {
		r.logger.Debug("failed to invalidate service cache",
			zap.String("service", service),
			zap.Error(err))
		return
	}
	r.logger.Debug("invalidated service cache", zap.String("service", service))
}

// readCache loads and decodes a cached JSON value into out. Any failure,
// including a decode failure of a corrupt entry, counts as a miss.
func (r *Registry) readCache(ctx context.Context, key string, out interface{}) bool {
	value, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if value == nil {
		return false
	}
	if err := json.Unmarshal(value, out); err != nil {
		r.logger.Debug("failed to parse cached value",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	return true
}

// writeCache encodes and stores a value with the registry TTL. Failures are
// logged and swallowed.
func (r *Registry) writeCache(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Debug("failed to encode cache value", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		r.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
