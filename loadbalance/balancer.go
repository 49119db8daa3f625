// Package loadbalance picks which endpoint a client dials when a service is served by
// more than one server.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless services, equal-capacity endpoints
//   - WeightedRandom:  heterogeneous endpoints, share follows Endpoint.Weight
//   - ConsistentHash:  the same key keeps landing on the same endpoint, so the objects a
//     session created stay on one server
package loadbalance

import (
	"errors"

	"nanorpc/discovery"
)

// ErrNoEndpoints is returned when Pick is given an empty list.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects one endpoint. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(endpoints []discovery.Endpoint) (discovery.Endpoint, error)
	Name() string
}
