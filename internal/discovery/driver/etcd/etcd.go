// Package etcd implements the discovery.Directory interface on etcd.
// Instances register under a lease-bound key so that a crashed module server
// disappears from the directory when its lease expires; ListHealthy is a
// prefix read, which makes every listed instance live by construction.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/pkg/discovery"
)

// Config represents the etcd directory configuration
type Config struct {
	// Endpoints are the etcd cluster endpoints
	Endpoints []string `yaml:"endpoints"`

	// DialTimeout bounds the initial connection attempt
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Username for etcd authentication
	Username string `yaml:"username"`

	// Password for etcd authentication
	Password string `yaml:"password"`

	// Namespace is the key prefix all registrations live under
	Namespace string `yaml:"namespace"`

	// LeaseTTL is the registration lease duration; the key vanishes this
	// long after the registering process stops renewing it
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// DefaultConfig returns a default etcd directory configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
		Namespace:   "/talkie/services",
		LeaseTTL:    30 * time.Second,
	}
}

// registration tracks the etcd resources backing one registered instance.
type registration struct {
	key     string
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// Directory implements discovery.Directory backed by etcd.
type Directory struct {
	client    *clientv3.Client
	namespace string
	leaseTTL  time.Duration
	logger    *zap.Logger

	mu            sync.Mutex
	registrations map[string]*registration
}

// New creates a new etcd-backed directory and verifies connectivity.
func New(config *Config, logger *zap.Logger) (*Directory, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}

	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultConfig().Namespace
	}
	leaseTTL := config.LeaseTTL
	if leaseTTL < 5*time.Second {
		leaseTTL = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		Username:    config.Username,
		Password:    config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Directory{
		client:        client,
		namespace:     namespace,
		leaseTTL:      leaseTTL,
		logger:        logger,
		registrations: make(map[string]*registration),
	}, nil
}

func (d *Directory) serviceKey(service, instanceID string) string {
	return fmt.Sprintf("%s/%s/%s", d.namespace, service, instanceID)
}

func (d *Directory) servicePrefix(service string) string {
	return fmt.Sprintf("%s/%s/", d.namespace, service)
}

// Register registers a service instance under a lease-bound key and starts a
// keepalive that renews the lease for the lifetime of the directory.
func (d *Directory) Register(ctx context.Context, reg *discovery.Registration) error {
	if reg == nil || reg.Service == "" || reg.ID == "" {
		return fmt.Errorf("registration requires service and instance id")
	}

	value, err := json.Marshal(reg.Instance())
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	lease, err := d.client.Grant(ctx, int64(d.leaseTTL.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	key := d.serviceKey(reg.Service, reg.ID)
	if _, err := d.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register instance %s: %w", reg.ID, err)
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	ch, err := d.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start keepalive for %s: %w", reg.ID, err)
	}
	go func() {
		// Drain keepalive responses; the channel closes when the lease is
		// revoked or the context is cancelled.
		for range ch {
		}
	}()

	d.mu.Lock()
	if prior, exists := d.registrations[reg.ID]; exists {
		prior.cancel()
	}
	d.registrations[reg.ID] = &registration{key: key, leaseID: lease.ID, cancel: cancel}
	d.mu.Unlock()

	d.logger.Info("registered service instance",
		zap.String("service", reg.Service),
		zap.String("instance_id", reg.ID),
		zap.String("key", key))
	return nil
}

// Deregister removes a service instance registered through this directory.
func (d *Directory) Deregister(ctx context.Context, instanceID string) error {
	d.mu.Lock()
	reg, exists := d.registrations[instanceID]
	if exists {
		delete(d.registrations, instanceID)
	}
	d.mu.Unlock()

	if !exists {
		return fmt.Errorf("instance %s is not registered", instanceID)
	}

	reg.cancel()
	if _, err := d.client.Delete(ctx, reg.key); err != nil {
		return fmt.Errorf("failed to delete registration %s: %w", instanceID, err)
	}
	if _, err := d.client.Revoke(ctx, reg.leaseID); err != nil {
		d.logger.Warn("failed to revoke lease",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	d.logger.Info("deregistered service instance", zap.String("instance_id", instanceID))
	return nil
}

// ListHealthy returns the live instances of a service, optionally filtered
// by tag. Lease expiry removes dead instances from the prefix, so presence
// implies liveness.
func (d *Directory) ListHealthy(ctx context.Context, service, tag string) ([]*discovery.ServiceInstance, error) {
	resp, err := d.client.Get(ctx, d.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of %s: %w", service, err)
	}

	instances := make([]*discovery.ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst discovery.ServiceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			d.logger.Warn("skipping malformed instance record",
				zap.String("key", string(kv.Key)),
				zap.Error(err))
			continue
		}
		if tag != "" && !inst.HasTag(tag) {
			continue
		}
		instances = append(instances, &inst)
	}
	return instances, nil
}

// Close cancels all keepalives and closes the etcd client.
func (d *Directory) Close() error {
	d.mu.Lock()
	for _, reg := range d.registrations {
		reg.cancel()
	}
	d.registrations = make(map[string]*registration)
	d.mu.Unlock()

	return d.client.Close()
}

var _ discovery.Directory = (*Directory)(nil)
