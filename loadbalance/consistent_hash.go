package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"nanorpc/discovery"
)

// ConsistentHash maps a fixed key onto a hash ring of the endpoints, so every client
// dialing with the same key reaches the same server while the endpoint set is stable.
//
// Each endpoint is placed on the ring Replicas times to even out the distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A'
//	                ╲   ╱
type ConsistentHash struct {
	Key      string
	Replicas int // virtual nodes per endpoint, 100 when zero
}

// NewConsistentHash returns a balancer routing key.
func NewConsistentHash(key string) *ConsistentHash {
	return &ConsistentHash{Key: key, Replicas: 100}
}

// Pick builds the ring from endpoints and returns the node owning the key.
func (b *ConsistentHash) Pick(endpoints []discovery.Endpoint) (discovery.Endpoint, error) {
	if len(endpoints) == 0 {
		return discovery.Endpoint{}, ErrNoEndpoints
	}
	replicas := b.Replicas
	if replicas <= 0 {
		replicas = 100
	}

	ring := make([]uint32, 0, len(endpoints)*replicas)
	nodes := make(map[uint32]int, len(endpoints)*replicas)
	for i, ep := range endpoints {
		for r := 0; r < replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, r)))
			if _, taken := nodes[hash]; taken {
				continue
			}
			ring = append(ring, hash)
			nodes[hash] = i
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(b.Key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return endpoints[nodes[ring[idx]]], nil
}

func (b *ConsistentHash) Name() string {
	return "ConsistentHash"
}
