package loadbalancer

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoEndpoints is returned by Select when the endpoint pool is empty.
var ErrNoEndpoints = errors.New("loadbalancer: no endpoints available")

// endpointState tracks per-endpoint bookkeeping updated by the client after
// each call outcome.
type endpointState struct {
	healthy      bool
	connections  int
	lastSelected time.Time
}

// Balancer selects one endpoint from a mutable pool using a pluggable
// strategy and tracks per-endpoint health and in-flight connection counts.
// All methods are safe for concurrent use; round-robin fairness under
// concurrent access is approximate, not exact.
type Balancer struct {
	strategy Strategy
	logger   *zap.Logger

	mu        sync.Mutex
	endpoints []string
	states    map[string]*endpointState
	next      int
	rng       *rand.Rand
}

// New creates a balancer over the given endpoints. All endpoints start
// healthy with zero in-flight connections.
func New(endpoints []string, strategy Strategy, logger *zap.Logger) *Balancer {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Balancer{
		strategy: strategy,
		logger:   logger,
		states:   make(map[string]*endpointState),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, ep := range endpoints {
		b.addLocked(ep)
	}
	return b
}

// Select returns an endpoint chosen by the configured strategy, or
// ErrNoEndpoints when the pool is empty. The pool being empty is the only
// error condition: unhealthy endpoints remain selectable under every
// strategy except health_based, and even health_based falls back to the
// full pool when nothing is healthy.
func (b *Balancer) Select() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.endpoints) == 0 {
		return "", ErrNoEndpoints
	}

	var selected string
	switch b.strategy {
	case StrategyRandom:
		selected = b.selectRandom(b.endpoints)
	case StrategyHealthBased:
		selected = b.selectHealthBased()
	case StrategyLeastConnections:
		selected = b.selectLeastConnections(b.endpoints)
	default:
		selected = b.selectRoundRobin(b.endpoints)
	}

	if st := b.states[selected]; st != nil {
		st.lastSelected = time.Now()
	}
	return selected, nil
}

// AddEndpoint adds an endpoint to the pool with default state.
func (b *Balancer) AddEndpoint(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(endpoint)
}

// RemoveEndpoint removes an endpoint and discards its tracked state.
func (b *Balancer) RemoveEndpoint(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(endpoint)
}

// UpdateEndpoints replaces the pool with the given list. Endpoints no longer
// present are removed along with their health and connection state; new
// endpoints are added healthy with zero connections. Endpoints present in
// both keep their existing state.
func (b *Balancer) UpdateEndpoints(endpoints []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	incoming := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		incoming[ep] = true
	}

	for _, ep := range append([]string(nil), b.endpoints...) {
		if !incoming[ep] {
			b.removeLocked(ep)
		}
	}
	for _, ep := range endpoints {
		b.addLocked(ep)
	}
}

// MarkHealthy marks an endpoint as healthy.
func (b *Balancer) MarkHealthy(endpoint string) {
	b.setHealth(endpoint, true)
}

// MarkUnhealthy marks an endpoint as unhealthy.
func (b *Balancer) MarkUnhealthy(endpoint string) {
	b.setHealth(endpoint, false)
}

// IsHealthy reports the tracked health flag of an endpoint. Unknown
// endpoints report healthy.
func (b *Balancer) IsHealthy(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[endpoint]; ok {
		return st.healthy
	}
	return true
}

// IncrementConnections increments the in-flight connection count.
func (b *Balancer) IncrementConnections(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[endpoint]; ok {
		st.connections++
	}
}

// DecrementConnections decrements the in-flight connection count, clamping
// at zero even when called more times than IncrementConnections.
func (b *Balancer) DecrementConnections(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[endpoint]; ok && st.connections > 0 {
		st.connections--
	}
}

// Connections returns the tracked in-flight connection count for an endpoint.
func (b *Balancer) Connections(endpoint string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[endpoint]; ok {
		return st.connections
	}
	return 0
}

// Endpoints returns a snapshot of the current endpoint pool.
func (b *Balancer) Endpoints() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.endpoints...)
}

// Len returns the number of endpoints in the pool.
func (b *Balancer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.endpoints)
}

func (b *Balancer) setHealth(endpoint string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[endpoint]; ok {
		st.healthy = healthy
	}
}

func (b *Balancer) addLocked(endpoint string) {
	if _, exists := b.states[endpoint]; exists {
		return
	}
	b.endpoints = append(b.endpoints, endpoint)
	b.states[endpoint] = &endpointState{healthy: true}
}

func (b *Balancer) removeLocked(endpoint string) {
	if _, exists := b.states[endpoint]; !exists {
		return
	}
	delete(b.states, endpoint)
	for i, ep := range b.endpoints {
		if ep == endpoint {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			break
		}
	}
}

func (b *Balancer) healthyLocked() []string {
	healthy := make([]string, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if st := b.states[ep]; st != nil && st.healthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}
