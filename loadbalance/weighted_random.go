package loadbalance

import (
	"math/rand/v2"

	"nanorpc/discovery"
)

// WeightedRandom picks endpoints with probability proportional to their weight.
// Endpoints with a weight below 1 count as 1.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}

	total := 0
	for _, ep := range endpoints {
		total += weight(ep)
	}

	r := rand.IntN(total)
	for _, ep := range endpoints {
		r -= weight(ep)
		if r < 0 {
			return ep, nil
		}
	}
	return endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}

func weight(ep discovery.Endpoint) int {
	if ep.Weight < 1 {
		return 1
	}
	return ep.Weight
}
