package loadbalance

import (
	"go.uber.org/atomic"

	"nanorpc/discovery"
)

// RoundRobin cycles through the endpoints in order.
type RoundRobin struct {
	counter atomic.Uint64
}

// Pick returns the next endpoint. The counter is shared by all callers.
func (b *RoundRobin) Pick(endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}
	index := (b.counter.Inc() - 1) % uint64(len(endpoints))
	return endpoints[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
