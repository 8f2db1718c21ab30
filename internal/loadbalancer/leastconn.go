package loadbalancer

// selectLeastConnections picks uniformly at random among endpoints tied for
// the minimum in-flight connection count. The random tie-break matches the
// behavior callers have come to rely on; a deterministic rule would bias
// traffic toward earlier-registered endpoints after idle periods.
// Callers must hold b.mu.
func (b *Balancer) selectLeastConnections(endpoints []string) string {
	min := -1
	for _, ep := range endpoints {
		if c := b.states[ep].connections; min == -1 || c < min {
			min = c
		}
	}

	candidates := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if b.states[ep].connections == min {
			candidates = append(candidates, ep)
		}
	}
	return candidates[b.rng.Intn(len(candidates))]
}
