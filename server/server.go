// Package server is the serving side of nanorpc.
//
// A Server owns the object registry shared by all of its connections. Each accepted
// connection becomes a Session with its own Channel, controller and event subscriptions.
// Calls are dispatched synchronously on the session's read loop, in arrival order:
//
//	Accept conn → Session (read loop)
//	  → controller validates → middleware chain → registry lookup → Service.CallMethod
//	  → Reply(call id, result)
//
// Events flow the other way: a session forwards a server-side event call only when its
// client has subscribed to the event interface through NanoRpc.RpcEventService.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nanorpc/discovery"
	"nanorpc/log"
	"nanorpc/message"
	"nanorpc/middleware"
	"nanorpc/protocol"
	"nanorpc/registry"
	"nanorpc/transport"
)

// EventServiceName is the reserved subscription service every session serves.
const EventServiceName = message.EventServiceName

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger of the server, its registry and its channels.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = log.OrDiscard(logger) }
}

// WithRegistry makes the server dispatch into an existing registry.
func WithRegistry(objects *registry.Registry) Option {
	return func(s *Server) { s.objects = objects }
}

// WithMiddleware appends middlewares to the dispatch chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mws...) }
}

// WithLimits bounds frame sizes on every session.
func WithLimits(l protocol.Limits) Option {
	return func(s *Server) { s.channelOpts = append(s.channelOpts, transport.WithLimits(l)) }
}

// WithAnnouncer publishes every registered service at ep while Serve runs. A zero ep
// announces the address of the first listener.
func WithAnnouncer(a discovery.Announcer, ep discovery.Endpoint) Option {
	return func(s *Server) {
		s.announcer = a
		s.advertise = ep
	}
}

// Server is safe for concurrent use. Register services and add middleware before serving.
type Server struct {
	objects     *registry.Registry
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	channelOpts []transport.Option

	announcer discovery.Announcer
	advertise discovery.Endpoint

	shutdown  atomic.Bool
	mu        sync.Mutex
	sessions  map[string]*Session
	listeners map[net.Listener]struct{}
	announced []string
}

// New returns a server with an empty registry holding only the object manager.
func New(opts ...Option) *Server {
	s := &Server{
		logger:    log.Discard,
		sessions:  make(map[string]*Session),
		listeners: make(map[net.Listener]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.objects == nil {
		s.objects = registry.New(registry.WithLogger(s.logger))
	}
	if _, ok := s.objects.GetService(registry.ServiceName); !ok {
		// the registry is a Service, so registration cannot fail for want of a descriptor
		if _, err := s.objects.RegisterService(registry.ServiceName, s.objects, nil); err != nil {
			s.logger.Error("register object manager", zap.Error(err))
		}
	}
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
	return s
}

// Objects returns the registry shared by all sessions.
func (s *Server) Objects() *registry.Registry { return s.objects }

// Use appends a middleware. It must not be called while sessions are running.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)
}

// Register exposes impl as a singleton service named desc.Name().
func (s *Server) Register(impl any, desc registry.Descriptor) (uint32, error) {
	return s.objects.RegisterService("", impl, desc)
}

// RegisterName exposes impl as a singleton service under name.
func (s *Server) RegisterName(name string, impl any, desc registry.Descriptor) (uint32, error) {
	return s.objects.RegisterService(name, impl, desc)
}

// ListenAndServe listens on the address and serves until Shutdown.
func (s *Server) ListenAndServe(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("server: listen %s %s: %w", network, address, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown, which makes it return ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	// checked under mu: Shutdown sets the flag before it snapshots listeners
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	if err := s.announce(context.Background(), ln.Addr()); err != nil {
		_ = ln.Close()
		return err
	}

	s.logger.Info("serving", zap.Stringer("addr", ln.Addr()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.ServeConn(conn)
	}
}

// ServeConn starts a session over rw and returns immediately. The session owns rw.
func (s *Server) ServeConn(rw io.ReadWriteCloser) *Session {
	sess := newSession(s, rw)
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		sess.Close()
		return sess
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	sess.ch.Start()
	s.logger.Info("session opened", zap.String("session", sess.id))
	return sess
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// dispatch is the innermost handler of the middleware chain.
func (s *Server) dispatch(ctx context.Context, call *message.Call) *message.Result {
	if call.ObjectID == 0 && call.Service == EventServiceName {
		sess, ok := SessionFrom(ctx)
		if !ok {
			return message.Failed(message.StatusUnknownInterface, "event service needs a session")
		}
		return sess.serveEvents(call)
	}
	svc, ok := s.objects.Lookup(call)
	if !ok {
		if call.ObjectID != 0 {
			return message.Failed(message.StatusUnknownInterface, fmt.Sprintf("unknown object %d", call.ObjectID))
		}
		return message.Failed(message.StatusUnknownInterface, "unknown service "+call.Service)
	}
	return svc.CallMethod(ctx, call)
}

// Emit forwards an event to every session subscribed to call.Service.
func (s *Server) Emit(call *message.Call) error {
	var err error
	for _, sess := range s.snapshot() {
		err = multierr.Append(err, sess.Emit(call))
	}
	return err
}

// EventSource returns a source broadcasting events of the named interface.
func (s *Server) EventSource(name string) *EventSource {
	return &EventSource{name: name, emit: s.Emit}
}

// announce publishes every service once. An advertise endpoint without an address
// takes the listener's.
func (s *Server) announce(ctx context.Context, addr net.Addr) error {
	if s.announcer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.announced) > 0 {
		return nil
	}
	if s.advertise.Addr == "" {
		s.advertise.Network = addr.Network()
		s.advertise.Addr = addr.String()
	}
	for _, name := range s.objects.Services() {
		if name == registry.ServiceName {
			continue
		}
		if err := s.announcer.Announce(ctx, name, s.advertise); err != nil {
			return fmt.Errorf("server: announce %s: %w", name, err)
		}
		s.announced = append(s.announced, name)
	}
	return nil
}

// Shutdown withdraws announcements, stops accepting and closes every session. It waits
// for the sessions to finish disconnecting or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	announced := s.announced
	advertise := s.advertise.Addr
	s.announced = nil
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	s.mu.Unlock()

	var err error
	for _, name := range announced {
		err = multierr.Append(err, s.announcer.Withdraw(ctx, name, advertise))
	}
	for _, ln := range listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range s.snapshot() {
		g.Go(func() error {
			sess.Close()
			select {
			case <-sess.Done():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err = multierr.Append(err, g.Wait())
	s.logger.Info("server shut down", zap.Error(err))
	return err
}
