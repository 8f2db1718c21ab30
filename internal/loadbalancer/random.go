package loadbalancer

// selectRandom picks a uniformly random endpoint. Callers must hold b.mu.
func (b *Balancer) selectRandom(endpoints []string) string {
	return endpoints[b.rng.Intn(len(endpoints))]
}
