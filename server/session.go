package server

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nanorpc/controller"
	"nanorpc/message"
	"nanorpc/middleware"
	"nanorpc/transport"
)

type sessionKey struct{}

// SessionFrom returns the session whose call is being dispatched. Services use it to
// emit events back to their caller.
func SessionFrom(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok
}

// Session is one client connection.
type Session struct {
	id     string
	srv    *Server
	ctrl   *controller.Controller
	ch     *transport.Channel
	logger *zap.Logger

	mu     sync.RWMutex
	events map[string]struct{}
}

func newSession(s *Server, rw io.ReadWriteCloser) *Session {
	sess := &Session{
		id:     uuid.NewString(),
		srv:    s,
		ctrl:   controller.NewServer(),
		events: make(map[string]struct{}),
	}
	sess.logger = s.logger.With(zap.String("session", sess.id))
	sess.ctrl.SetRecipient(sess)

	opts := append([]transport.Option{
		transport.WithLogger(sess.logger),
		transport.WithDisconnectHandler(sess.disconnected),
	}, s.channelOpts...)
	sess.ch = transport.NewChannel(rw, sess.ctrl, opts...)
	sess.ctrl.Bind(sess.ch)
	return sess
}

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// Done is closed once the session's channel has disconnected.
func (s *Session) Done() <-chan struct{} { return s.ch.Done() }

// Close disconnects the session.
func (s *Session) Close() error { return s.ch.Close() }

// Receive implements controller.Recipient. It runs on the read loop.
func (s *Session) Receive(m *message.Message) error {
	if !m.HasCall() {
		// only failing results get here
		if m.Result.Status == message.StatusChannelFailure {
			s.unsubscribeAll()
			return nil
		}
		s.logger.Warn("peer reported failure", zap.Stringer("status", m.Result.Status), zap.String("error", m.Result.ErrorMessage))
		return nil
	}

	ctx := context.WithValue(context.Background(), sessionKey{}, s)
	ctx = middleware.WithCallInfo(ctx, middleware.CallInfo{SessionID: s.id, CallID: m.ID, HasID: m.HasID})
	res := s.srv.handler(ctx, m.Call)
	if res == nil {
		res = message.Failed(message.StatusProtocolError, "no result")
	}

	if !m.Call.ExpectsResult {
		if !res.Status.OK() {
			s.logger.Debug("one-way call failed", zap.String("method", m.Call.Method), zap.String("error", res.ErrorMessage))
		}
		return nil
	}
	if err := s.ctrl.Reply(m, res); err != nil {
		return fmt.Errorf("reply to %s.%s: %w", m.Call.Service, m.Call.Method, err)
	}
	return nil
}

func (s *Session) disconnected(err error) {
	s.unsubscribeAll()
	s.srv.removeSession(s)
	s.logger.Info("session closed", zap.Error(err))
}

func (s *Session) serveEvents(call *message.Call) *message.Result {
	if call.Method != "Add" && call.Method != "Remove" {
		return message.Failed(message.StatusUnknownMethod, "unknown method "+EventServiceName+"."+call.Method)
	}
	if len(call.Parameters) != 1 {
		return message.Failed(message.StatusInvalidCallParameter, call.Method+" takes 1 parameter")
	}
	name, err := call.Parameters[0].StringValue()
	if err != nil {
		return message.Failed(message.StatusInvalidCallParameter, err.Error())
	}

	s.mu.Lock()
	if call.Method == "Add" {
		s.events[name] = struct{}{}
	} else {
		delete(s.events, name)
	}
	s.mu.Unlock()
	s.logger.Debug("event subscription changed", zap.String("method", call.Method), zap.String("interface", name))
	return message.Succeeded(nil)
}

func (s *Session) unsubscribeAll() {
	s.mu.Lock()
	clear(s.events)
	s.mu.Unlock()
}

// Subscribed reports whether the client listens to the named event interface.
func (s *Session) Subscribed(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[name]
	return ok
}

// Emit sends call as an event if the client subscribed to call.Service; otherwise the
// event is dropped and Emit returns nil.
func (s *Session) Emit(call *message.Call) error {
	if !s.Subscribed(call.Service) {
		return nil
	}
	ev := *call
	ev.ExpectsResult = false
	return s.ctrl.Send(&message.Message{Call: &ev})
}

// EventSource returns a source sending events of the named interface to this session.
func (s *Session) EventSource(name string) *EventSource {
	return &EventSource{name: name, emit: s.Emit}
}

// EventSource fires the methods of one event interface.
type EventSource struct {
	name string
	emit func(call *message.Call) error
}

// Name returns the event interface name.
func (e *EventSource) Name() string { return e.name }

// Fire emits method with params.
func (e *EventSource) Fire(method string, params ...message.Parameter) error {
	return e.emit(message.NewCall(e.name, method, params...))
}
