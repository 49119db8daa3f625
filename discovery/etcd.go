package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"nanorpc/log"
)

var (
	_ Resolver  = (*Etcd)(nil)
	_ Announcer = (*Etcd)(nil)
)

// DefaultPrefix is the etcd key space used when no prefix is configured.
const DefaultPrefix = "/nanorpc/"

// Etcd keeps endpoints in etcd:
//
//	Key:   {prefix}{service}/{addr}
//	Value: JSON-encoded Endpoint
//
// Every announcement is bound to a TTL lease that is kept alive in the background, so the
// entries of a crashed server expire on their own.
type Etcd struct {
	client *clientv3.Client
	prefix string
	ttl    int64
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]announcement // key -> lease
}

type announcement struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// EtcdOption configures an Etcd registry.
type EtcdOption func(*Etcd)

// WithPrefix sets the key prefix. It must end with a slash.
func WithPrefix(prefix string) EtcdOption {
	return func(e *Etcd) { e.prefix = prefix }
}

// WithTTL sets the lease TTL in seconds.
func WithTTL(seconds int64) EtcdOption {
	return func(e *Etcd) { e.ttl = seconds }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EtcdOption {
	return func(e *Etcd) { e.logger = log.OrDiscard(logger) }
}

// NewEtcd connects to the given etcd endpoints.
func NewEtcd(endpoints []string, opts ...EtcdOption) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: connect etcd: %w", err)
	}
	return newEtcd(c, opts...), nil
}

func newEtcd(c *clientv3.Client, opts ...EtcdOption) *Etcd {
	e := &Etcd{
		client: c,
		prefix: DefaultPrefix,
		ttl:    10,
		logger: log.Discard,
		leases: make(map[string]announcement),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Etcd) serviceKey(service string) string { return e.prefix + service + "/" }

// Announce publishes ep under service with a fresh lease. Announcing the same address
// again replaces the previous lease.
func (e *Etcd) Announce(ctx context.Context, service string, ep Endpoint) error {
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	lease, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("discovery: grant lease: %w", err)
	}

	key := e.serviceKey(service) + ep.Addr
	if _, err := e.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("discovery: put %s: %w", key, err)
	}

	// the keepalive outlives ctx; Withdraw or Close stops it
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		e.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	e.mu.Lock()
	prev, ok := e.leases[key]
	e.leases[key] = announcement{lease: lease.ID, cancel: cancel}
	e.mu.Unlock()
	if ok {
		prev.cancel()
		_, _ = e.client.Revoke(ctx, prev.lease)
	}

	e.logger.Info("endpoint announced", zap.String("service", service), zap.String("addr", ep.Addr))
	return nil
}

// Withdraw removes the endpoint and stops its keepalive.
func (e *Etcd) Withdraw(ctx context.Context, service string, addr string) error {
	key := e.serviceKey(service) + addr

	e.mu.Lock()
	a, ok := e.leases[key]
	delete(e.leases, key)
	e.mu.Unlock()
	if ok {
		a.cancel()
	}

	if _, err := e.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("discovery: delete %s: %w", key, err)
	}
	if ok {
		if _, err := e.client.Revoke(ctx, a.lease); err != nil {
			e.logger.Warn("revoke lease failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Resolve returns every endpoint currently registered for service.
func (e *Etcd) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := e.client.Get(ctx, e.serviceKey(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: get %s: %w", service, err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			e.logger.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return endpoints, nil
}

// Watch emits the full endpoint list of service after every change under its prefix.
// The channel is closed when ctx is done.
func (e *Etcd) Watch(ctx context.Context, service string) <-chan []Endpoint {
	out := make(chan []Endpoint, 1)
	go func() {
		defer close(out)
		for resp := range e.client.Watch(ctx, e.serviceKey(service), clientv3.WithPrefix()) {
			if err := resp.Err(); err != nil {
				e.logger.Warn("watch error", zap.String("service", service), zap.Error(err))
				continue
			}
			endpoints, err := e.Resolve(ctx, service)
			if err != nil && !errors.Is(err, ErrNoEndpoints) {
				continue
			}
			select {
			case out <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close stops every keepalive and closes the etcd client. Leases expire on their own.
func (e *Etcd) Close() error {
	e.mu.Lock()
	for key, a := range e.leases {
		a.cancel()
		delete(e.leases, key)
	}
	e.mu.Unlock()
	return e.client.Close()
}
