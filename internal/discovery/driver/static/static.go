// Package static implements the discovery.Directory interface over a fixed
// instance list, loaded from configuration or seeded programmatically. It
// serves single-host deployments that run without an etcd cluster, and tests.
package static

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/talkie-project/talkie/pkg/discovery"
)

// FileConfig represents the static service directory file format.
type FileConfig struct {
	Services map[string]*ServiceConfig `yaml:"services"`
}

// ServiceConfig represents the configured instances of one service.
type ServiceConfig struct {
	Instances []*InstanceConfig `yaml:"instances"`
}

// InstanceConfig represents one configured service instance.
type InstanceConfig struct {
	ID       string            `yaml:"id"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Tags     []string          `yaml:"tags,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Directory implements discovery.Directory over an in-memory instance table.
// Register and Deregister mutate the table, so module servers started in the
// same process can still self-register.
type Directory struct {
	mu        sync.RWMutex
	instances map[string]map[string]*discovery.ServiceInstance // service -> id -> instance
}

// New creates a static directory seeded with the given instances.
func New(seed []*discovery.ServiceInstance) *Directory {
	d := &Directory{
		instances: make(map[string]map[string]*discovery.ServiceInstance),
	}
	for _, inst := range seed {
		d.put(inst)
	}
	return d
}

// FromFile creates a static directory from a YAML services file.
func FromFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static directory file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse static directory file: %w", err)
	}

	d := New(nil)
	for service, svc := range cfg.Services {
		if svc == nil {
			continue
		}
		for i, inst := range svc.Instances {
			if inst.Host == "" {
				return nil, fmt.Errorf("service %s instance %d: host is required", service, i)
			}
			if inst.Port <= 0 || inst.Port > 65535 {
				return nil, fmt.Errorf("service %s instance %d: invalid port %d", service, i, inst.Port)
			}
			id := inst.ID
			if id == "" {
				id = fmt.Sprintf("%s-%s-%d", service, inst.Host, inst.Port)
			}
			d.put(&discovery.ServiceInstance{
				ID:       id,
				Service:  service,
				Address:  inst.Host,
				Port:     inst.Port,
				Tags:     inst.Tags,
				Metadata: inst.Metadata,
			})
		}
	}
	return d, nil
}

func (d *Directory) put(inst *discovery.ServiceInstance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.instances[inst.Service]
	if !ok {
		byID = make(map[string]*discovery.ServiceInstance)
		d.instances[inst.Service] = byID
	}
	byID[inst.ID] = inst
}

// Register adds a service instance to the table.
func (d *Directory) Register(_ context.Context, reg *discovery.Registration) error {
	if reg == nil || reg.Service == "" || reg.ID == "" {
		return fmt.Errorf("registration requires service and instance id")
	}
	d.put(reg.Instance())
	return nil
}

// Deregister removes a service instance from the table.
func (d *Directory) Deregister(_ context.Context, instanceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for service, byID := range d.instances {
		if _, ok := byID[instanceID]; ok {
			delete(byID, instanceID)
			if len(byID) == 0 {
				delete(d.instances, service)
			}
			return nil
		}
	}
	return fmt.Errorf("instance %s is not registered", instanceID)
}

// ListHealthy returns the configured instances of a service, optionally
// filtered by tag. A static directory has no liveness signal of its own, so
// every configured instance is reported; the healthbeat and the client's
// per-endpoint health tracking filter out dead ones.
func (d *Directory) ListHealthy(_ context.Context, service, tag string) ([]*discovery.ServiceInstance, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byID, ok := d.instances[service]
	if !ok {
		return []*discovery.ServiceInstance{}, nil
	}

	instances := make([]*discovery.ServiceInstance, 0, len(byID))
	for _, inst := range byID {
		if tag != "" && !inst.HasTag(tag) {
			continue
		}
		copied := *inst
		instances = append(instances, &copied)
	}
	return instances, nil
}

// Close releases nothing for a static directory.
func (d *Directory) Close() error {
	return nil
}

var _ discovery.Directory = (*Directory)(nil)
