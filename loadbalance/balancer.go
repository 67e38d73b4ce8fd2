// Package loadbalance picks the connector server that handles a call.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers of different capacity
//   - ConsistentHash:  keeps every call for one connector on the same server
package loadbalance

import (
	"errors"
	"fmt"

	"connector-rpc/registry"
)

// ErrNoInstances is returned when there is no server to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance for a call on the connector identified by
	// key. Called on every call; must be goroutine-safe.
	Pick(key string, instances []registry.ServerInstance) (*registry.ServerInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer named by a configuration value:
// round_robin, weighted_random or consistent_hash.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
