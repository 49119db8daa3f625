// Package client is the calling side of a nanorpc channel.
//
// A Client owns one Channel. Calls that expect a result get a fresh id and a slot in the
// pending table before they are written; the read loop completes the slot when the
// reply arrives, so any number of goroutines can call concurrently over one connection:
//
//	goroutine-1 ──SendWithResult(id=1)──┐
//	goroutine-2 ──SendWithResult(id=2)──┼──→ channel ──→ server
//	goroutine-3 ──Send(event ack)───────┘
//
//	read loop:  ←── Result(id=2) → pending[2] → goroutine-2 wakes up
//	            ←── Call(event)  → listeners[service].CallMethod
//
// When the channel fails every waiting call returns a ChannelFailure result, and every
// later call fails at once.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"nanorpc/controller"
	"nanorpc/discovery"
	"nanorpc/loadbalance"
	"nanorpc/log"
	"nanorpc/message"
	"nanorpc/pending"
	"nanorpc/protocol"
	"nanorpc/registry"
	"nanorpc/transport"
)

// ErrNoDescriptor is returned when an event listener is neither a registry.Service nor
// accompanied by a descriptor.
var ErrNoDescriptor = registry.ErrNoDescriptor

type options struct {
	logger  *zap.Logger
	channel []transport.Option
	dialer  *net.Dialer
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger of the client and its channel.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = log.OrDiscard(logger) }
}

// WithLimits bounds frame sizes on the channel.
func WithLimits(l protocol.Limits) Option {
	return func(o *options) { o.channel = append(o.channel, transport.WithLimits(l)) }
}

// WithDialer sets the dialer used by Dial, DialContext and DialService.
func WithDialer(d *net.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithChannelOptions passes options through to the channel.
func WithChannelOptions(opts ...transport.Option) Option {
	return func(o *options) { o.channel = append(o.channel, opts...) }
}

// Client is safe for concurrent use.
type Client struct {
	ctrl    *controller.Controller
	ch      *transport.Channel
	pending *pending.Table
	nextID  *atomic.Uint32
	logger  *zap.Logger

	mu        sync.RWMutex
	listeners map[string]registry.Service
}

// New starts a client over rw. The client owns rw and closes it on Close or failure.
func New(rw io.ReadWriteCloser, opts ...Option) *Client {
	o := options{logger: log.Discard}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		ctrl:      controller.NewClient(),
		pending:   pending.New(),
		nextID:    atomic.NewUint32(0),
		logger:    o.logger,
		listeners: make(map[string]registry.Service),
	}
	c.ctrl.SetRecipient(c)

	chOpts := append([]transport.Option{transport.WithLogger(o.logger)}, o.channel...)
	c.ch = transport.NewChannel(rw, c.ctrl, chOpts...)
	c.ctrl.Bind(c.ch)
	c.ch.Start()
	return c
}

// Dial connects to a server.
func Dial(network, addr string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), network, addr, opts...)
}

// DialContext connects to a server; ctx bounds the connect only.
func DialContext(ctx context.Context, network, addr string, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = &net.Dialer{}
	}
	conn, err := o.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s %s: %w", network, addr, err)
	}
	return New(conn, opts...), nil
}

// DialService resolves service, lets balancer pick an endpoint and dials it.
func DialService(ctx context.Context, resolver discovery.Resolver, balancer loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	endpoints, err := resolver.Resolve(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %s: %w", service, err)
	}
	ep, err := balancer.Pick(endpoints)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s: %w", service, err)
	}
	network := ep.Network
	if network == "" {
		network = "tcp"
	}
	return DialContext(ctx, network, ep.Addr, opts...)
}

// Receive implements controller.Recipient. It runs on the read loop.
func (c *Client) Receive(m *message.Message) error {
	switch {
	case m.HasResult():
		return c.receiveResult(m)
	case m.HasCall():
		c.dispatchEvent(m.Call)
		return nil
	default:
		return nil
	}
}

func (c *Client) receiveResult(m *message.Message) error {
	if !m.HasID {
		// only the channel's own failure result closes the table; the channel is
		// already Disconnected when it delivers it
		if m.Result.Status == message.StatusChannelFailure && c.ch.State() == transport.StateDisconnected {
			c.pending.FailAll(m.Result)
			return nil
		}
		return message.Errorf(message.StatusProtocolError, "result without call id: %s", m.Result.Status)
	}
	if err := c.pending.Complete(m.ID, m.Result); err != nil {
		return fmt.Errorf("client: reply %d: %w", m.ID, err)
	}
	return nil
}

func (c *Client) dispatchEvent(call *message.Call) {
	c.mu.RLock()
	listener, ok := c.listeners[call.Service]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("event without listener dropped", zap.String("service", call.Service), zap.String("method", call.Method))
		return
	}
	if res := listener.CallMethod(context.Background(), call); res != nil && !res.Status.OK() {
		c.logger.Warn("event listener failed",
			zap.String("service", call.Service),
			zap.String("method", call.Method),
			zap.Stringer("status", res.Status),
			zap.String("error", res.ErrorMessage))
	}
}

// Send writes call without waiting for, or asking for, a result.
func (c *Client) Send(call *message.Call) error {
	call.ExpectsResult = false
	return c.ctrl.Send(&message.Message{Call: call})
}

// SendWithResult writes call and blocks until its result arrives or the channel fails.
// There is no timeout; a server that never answers blocks the caller until Close.
func (c *Client) SendWithResult(call *message.Call) (*message.Result, error) {
	id := c.nextID.Inc()
	slot, err := c.pending.Add(id)
	if err != nil {
		if errors.Is(err, pending.ErrClosed) {
			return nil, transport.ErrChannelFailure
		}
		return nil, err
	}

	call.ExpectsResult = true
	m := &message.Message{Call: call}
	m.SetID(id)
	if err := c.ctrl.Send(m); err != nil {
		c.pending.Remove(id)
		return nil, err
	}
	return <-slot, nil
}

// Invoke is SendWithResult with failed results turned into *message.Error.
// The returned parameter is nil for void methods.
func (c *Client) Invoke(call *message.Call) (*message.Parameter, error) {
	res, err := c.SendWithResult(call)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.CallResult, nil
}

// RegisterEventListener routes events of the named interface to impl. impl is bound with
// desc unless it already implements registry.Service; an empty name defaults to desc.Name().
// Listeners run on the read loop and must not wait for results of their own calls.
func (c *Client) RegisterEventListener(name string, impl any, desc registry.Descriptor) error {
	if name == "" && desc != nil {
		name = desc.Name()
	}
	var svc registry.Service
	switch {
	case desc != nil:
		s, err := desc.Bind(impl, nil)
		if err != nil {
			return err
		}
		svc = s
	default:
		s, ok := impl.(registry.Service)
		if !ok {
			return ErrNoDescriptor
		}
		svc = s
	}
	c.mu.Lock()
	c.listeners[name] = svc
	c.mu.Unlock()
	return nil
}

// UnregisterEventListener drops the listener for name.
func (c *Client) UnregisterEventListener(name string) {
	c.mu.Lock()
	delete(c.listeners, name)
	c.mu.Unlock()
}

// StartListening asks the server to forward events of the named interface.
func (c *Client) StartListening(name string) error {
	_, err := c.Invoke(message.NewCall(message.EventServiceName, "Add", message.String(name)))
	return err
}

// StopListening asks the server to stop forwarding events of the named interface.
func (c *Client) StopListening(name string) error {
	_, err := c.Invoke(message.NewCall(message.EventServiceName, "Remove", message.String(name)))
	return err
}

// Close disconnects the channel and fails every pending call.
func (c *Client) Close() error {
	return c.ch.Close()
}

// Done is closed once the channel has disconnected.
func (c *Client) Done() <-chan struct{} { return c.ch.Done() }

// Err returns why the channel disconnected, or nil while it is up.
func (c *Client) Err() error { return c.ch.Err() }

// Pending returns the number of calls waiting for a result.
func (c *Client) Pending() int { return c.pending.Len() }
