package loadbalancer

// selectRoundRobin cycles through the given endpoints. The cursor persists
// across calls and wraps modulo the list length at selection time, so the
// pool may grow or shrink between calls without resetting the cycle.
// Callers must hold b.mu.
func (b *Balancer) selectRoundRobin(endpoints []string) string {
	selected := endpoints[b.next%len(endpoints)]
	b.next = (b.next + 1) % len(endpoints)
	return selected
}
