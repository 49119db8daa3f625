// Package discovery announces nanorpc endpoints and finds them again.
//
// A server announces every singleton service it exposes; a client resolves the service
// name to the endpoints currently serving it and lets a loadbalance.Balancer pick one.
package discovery

import (
	"context"
	"errors"
	"sync"
)

// ErrNoEndpoints is returned when a service has no live endpoint.
var ErrNoEndpoints = errors.New("discovery: no endpoints")

// Endpoint is one address serving a service.
type Endpoint struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // relative share for weighted balancing
	Version string `json:"version,omitempty"`
}

// Resolver lists the endpoints serving a service.
type Resolver interface {
	Resolve(ctx context.Context, service string) ([]Endpoint, error)
}

// Announcer publishes and withdraws endpoints.
type Announcer interface {
	Announce(ctx context.Context, service string, ep Endpoint) error
	Withdraw(ctx context.Context, service string, addr string) error
}

// Static is an in-memory Resolver and Announcer, for tests and fixed deployments.
type Static struct {
	mu        sync.RWMutex
	endpoints map[string][]Endpoint
}

// NewStatic returns an empty Static registry.
func NewStatic() *Static {
	return &Static{endpoints: make(map[string][]Endpoint)}
}

func (s *Static) Announce(_ context.Context, service string, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eps := s.endpoints[service]
	for i := range eps {
		if eps[i].Addr == ep.Addr {
			eps[i] = ep
			return nil
		}
	}
	s.endpoints[service] = append(eps, ep)
	return nil
}

func (s *Static) Withdraw(_ context.Context, service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eps := s.endpoints[service]
	for i := range eps {
		if eps[i].Addr == addr {
			s.endpoints[service] = append(eps[:i:i], eps[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Static) Resolve(_ context.Context, service string) ([]Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eps := s.endpoints[service]
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]Endpoint(nil), eps...), nil
}
