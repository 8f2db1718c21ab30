package loadbalancer

// Strategy identifies a load balancing strategy.
type Strategy string

const (
	// StrategyRoundRobin cycles through endpoints in order
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyRandom picks a uniformly random endpoint
	StrategyRandom Strategy = "random"
	// StrategyHealthBased round-robins over healthy endpoints, falling back
	// to the full set when none are healthy
	StrategyHealthBased Strategy = "health_based"
	// StrategyLeastConnections picks among endpoints tied for the fewest
	// in-flight connections
	StrategyLeastConnections Strategy = "least_connections"
)

// ParseStrategy maps a configuration string to a Strategy. Unknown values
// fall back to round-robin.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyRandom, StrategyHealthBased, StrategyLeastConnections:
		return Strategy(s)
	default:
		return StrategyRoundRobin
	}
}
