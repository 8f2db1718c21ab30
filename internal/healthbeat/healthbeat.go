// Package healthbeat polls every registered module instance and keeps
// the shared health picture current: probe results are cached through
// the registry so clients see them, and transitions are published as
// events for anything that wants to react.
package healthbeat

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/registry"
	"github.com/talkie-project/talkie/pkg/discovery"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Config configures the monitor.
type Config struct {
	// Services lists the module service names to watch.
	Services []string `yaml:"services"`

	// Interval is the sweep period. Cached statuses live for twice the
	// interval so one missed sweep does not blank the picture.
	Interval time.Duration `yaml:"interval"`

	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Monitor periodically probes module instances.
type Monitor struct {
	config    *Config
	directory discovery.Directory
	registry  *registry.Registry
	events    *Events
	logger    *zap.Logger
	http      *http.Client

	mu       sync.Mutex
	statuses map[string]Status

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a monitor. The registry is optional; without it statuses
// are still tracked and published but not cached for clients.
func New(config *Config, dir discovery.Directory, reg *registry.Registry, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		config:    &cfg,
		directory: dir,
		registry:  reg,
		events:    NewEvents(0),
		logger:    logger,
		http:      &http.Client{Timeout: cfg.ProbeTimeout},
		statuses:  make(map[string]Status),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Events returns the transition hub.
func (m *Monitor) Events() *Events {
	return m.events
}

// Start runs the sweep loop until Stop is called. The first sweep runs
// immediately.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.sweep(context.Background())
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep(context.Background())
			}
		}
	}()
}

// Stop halts the loop and waits for the sweep in flight to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, service := range m.config.Services {
		m.CheckService(ctx, service)
	}
}

// CheckService probes every instance of one service and updates the
// shared health picture.
func (m *Monitor) CheckService(ctx context.Context, service string) {
	instances, err := m.directory.ListHealthy(ctx, service, "")
	if err != nil {
		m.logger.Warn("failed to list instances",
			zap.String("service", service),
			zap.Error(err))
		return
	}

	healthy := 0
	for _, instance := range instances {
		status := m.probe(ctx, instance)
		if status == StatusHealthy {
			healthy++
		}
		m.record(ctx, instance, status)
	}
	m.logger.Info("health sweep",
		zap.String("service", service),
		zap.Int("healthy", healthy),
		zap.Int("total", len(instances)))
}

// probe checks the instance's liveness, readiness and health endpoints.
// An instance counts healthy only when all three answer 200.
func (m *Monitor) probe(ctx context.Context, instance *discovery.ServiceInstance) Status {
	base := instance.URL("http")
	for _, path := range []string{"/health/live", "/health/ready", "/health"} {
		if !m.probeOK(ctx, base+path) {
			return StatusUnhealthy
		}
	}
	return StatusHealthy
}

func (m *Monitor) probeOK(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// record caches the status and publishes a transition event when it
// changed since the last sweep.
func (m *Monitor) record(ctx context.Context, instance *discovery.ServiceInstance, status Status) {
	if m.registry != nil {
		m.registry.CacheHealthStatus(ctx, instance.ID, string(status), 2*m.config.Interval)
	}

	m.mu.Lock()
	previous, seen := m.statuses[instance.ID]
	m.statuses[instance.ID] = status
	m.mu.Unlock()

	if !seen {
		previous = StatusUnknown
	}
	if previous == status {
		return
	}

	m.logger.Info("instance health changed",
		zap.String("service", instance.Service),
		zap.String("instance_id", instance.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(status)))
	m.events.publish(Event{
		Service:    instance.Service,
		InstanceID: instance.ID,
		Endpoint:   instance.URL("http"),
		From:       previous,
		To:         status,
		Timestamp:  time.Now(),
	})
}

// Status returns the last observed status for an instance.
func (m *Monitor) Status(instanceID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[instanceID]; ok {
		return s
	}
	return StatusUnknown
}

// Statuses returns the last observed status of every instance.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.statuses))
	for id, status := range m.statuses {
		out[id] = status
	}
	return out
}
