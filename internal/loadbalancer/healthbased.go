package loadbalancer

// selectHealthBased filters the pool to endpoints marked healthy and
// round-robins within that set. When no endpoint is healthy the full pool is
// used instead: a module with every instance marked down is still worth one
// attempt rather than an immediate failure. Callers must hold b.mu.
func (b *Balancer) selectHealthBased() string {
	candidates := b.healthyLocked()
	if len(candidates) == 0 {
		candidates = b.endpoints
	}
	return b.selectRoundRobin(candidates)
}
