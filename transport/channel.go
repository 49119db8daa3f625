// Package transport implements the Channel: one ordered byte stream carrying framed
// messages in both directions.
//
// A single read-loop goroutine owns the read side. It accumulates bytes, cuts complete
// frames, decodes them and hands each message to the receiver before reading the next.
// Writers from any goroutine share the write side under a mutex so frames never interleave.
//
//	Send(m) ──encode──→ [writeMu] WriteFrame ──→ rw
//	rw ──Read──→ buffer ──Cut──→ decode ──→ receiver.Receive(m)
//
// The first read error, write error, zero-byte read or undecodable frame disconnects the
// channel, exactly once: the stream is closed, a ChannelFailure result is delivered to the
// receiver so pending calls wake up, the disconnect handler runs and Done is closed.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"nanorpc/codec"
	"nanorpc/log"
	"nanorpc/message"
	"nanorpc/protocol"
)

// FailureMessage is the error text of the result synthesized on disconnect.
const FailureMessage = "RPC channel failure"

var (
	// ErrChannelFailure is returned by Send once the channel is disconnected.
	ErrChannelFailure error = &message.Error{Status: message.StatusChannelFailure, Message: FailureMessage}
	// ErrClosed is the disconnect cause after a local Close.
	ErrClosed = errors.New("transport: channel closed")
	// ErrZeroRead is the disconnect cause when the stream returns no bytes and no error.
	ErrZeroRead = errors.New("transport: zero-byte read")
)

// State is the lifecycle position of a Channel. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Receiver consumes decoded messages. controller.Controller implements it.
// An error is logged and the read loop continues with the next message.
type Receiver interface {
	Receive(m *message.Message) error
}

// Channel is safe for concurrent Send. Receive is always called from one goroutine,
// except for the failure result, which comes from whichever goroutine disconnects.
type Channel struct {
	rw       io.ReadWriteCloser
	receiver Receiver

	codec        codec.Codec
	limits       protocol.Limits
	logger       *zap.Logger
	readSize     int
	onDisconnect func(err error)

	state     *atomic.Int32
	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	err       error // written once before done is closed
}

// Option configures a Channel.
type Option func(*Channel)

// WithCodec replaces the protobuf wire codec.
func WithCodec(c codec.Codec) Option {
	return func(ch *Channel) { ch.codec = c }
}

// WithLimits bounds the size of frames in both directions.
func WithLimits(l protocol.Limits) Option {
	return func(ch *Channel) { ch.limits = l }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ch *Channel) { ch.logger = log.OrDiscard(logger) }
}

// WithReadBufferSize sets the size of a single Read.
func WithReadBufferSize(n int) Option {
	return func(ch *Channel) {
		if n > 0 {
			ch.readSize = n
		}
	}
}

// WithDisconnectHandler registers fn to run once the channel has disconnected, after the
// failure result has been delivered. err is the disconnect cause.
func WithDisconnectHandler(fn func(err error)) Option {
	return func(ch *Channel) { ch.onDisconnect = fn }
}

// NewChannel wraps rw. The channel does not read until Start is called.
func NewChannel(rw io.ReadWriteCloser, receiver Receiver, opts ...Option) *Channel {
	ch := &Channel{
		rw:       rw,
		receiver: receiver,
		codec:    codec.Proto,
		limits:   protocol.DefaultLimits(),
		logger:   log.Discard,
		readSize: 4096,
		state:    atomic.NewInt32(int32(StateConnecting)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Start moves the channel to Connected and launches the read loop. Only the first call
// has an effect, and none once the channel is disconnected.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		if c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
			go c.readLoop()
		}
	})
}

// State returns the current state.
func (c *Channel) State() State { return State(c.state.Load()) }

// Done is closed once the disconnect sequence has finished.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the disconnect cause, or nil while the channel is up.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send encodes m and writes it as one frame. Encoding and size errors leave the channel
// up; a write error disconnects it.
func (c *Channel) Send(m *message.Message) error {
	if c.State() == StateDisconnected {
		return ErrChannelFailure
	}

	payload, err := c.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	c.writeMu.Lock()
	if c.State() == StateDisconnected {
		c.writeMu.Unlock()
		return ErrChannelFailure
	}
	err = protocol.WriteFrame(c.rw, payload, c.limits)
	c.writeMu.Unlock()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		return err
	default:
		c.disconnect(fmt.Errorf("write: %w", err))
		return &message.Error{Status: message.StatusChannelFailure, Message: err.Error()}
	}
}

// Close disconnects the channel. It is safe to call more than once.
func (c *Channel) Close() error {
	c.disconnect(ErrClosed)
	return nil
}

func (c *Channel) readLoop() {
	chunk := make([]byte, c.readSize)
	var buf []byte
	for {
		n, err := c.rw.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			rest, ferr := c.drain(buf)
			if ferr != nil {
				c.disconnect(ferr)
				return
			}
			// shift the partial frame to the front; copy handles the overlap
			buf = append(buf[:0], rest...)
		}
		if err != nil {
			c.disconnect(err)
			return
		}
		if n == 0 {
			c.disconnect(ErrZeroRead)
			return
		}
	}
}

// drain delivers every complete frame in buf and returns the unconsumed tail.
func (c *Channel) drain(buf []byte) ([]byte, error) {
	for {
		payload, rest, ok, err := protocol.Cut(buf, c.limits)
		if err != nil {
			return nil, err
		}
		if !ok {
			return buf, nil
		}
		m, err := c.codec.Decode(payload)
		if err != nil {
			return nil, err
		}
		buf = rest
		c.deliver(m)
		if c.State() == StateDisconnected {
			return nil, ErrClosed
		}
	}
}

func (c *Channel) deliver(m *message.Message) {
	err := c.receiver.Receive(m)
	if err == nil {
		return
	}
	if message.StatusOf(err) == message.StatusProtocolError {
		c.logger.Warn("protocol error, message dropped", zap.Error(err))
		return
	}
	c.logger.Error("receive failed", zap.Uint32("id", m.ID), zap.Error(err))
}

func (c *Channel) disconnect(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		c.err = cause
		if err := c.rw.Close(); err != nil {
			c.logger.Debug("close transport", zap.Error(err))
		}
		if errors.Is(cause, io.EOF) || errors.Is(cause, ErrClosed) {
			c.logger.Info("channel disconnected", zap.Error(cause))
		} else {
			c.logger.Warn("channel failed", zap.Error(cause))
		}

		failure := &message.Message{Result: message.Failed(message.StatusChannelFailure, FailureMessage)}
		if err := c.receiver.Receive(failure); err != nil {
			c.logger.Debug("failure result not accepted", zap.Error(err))
		}
		if c.onDisconnect != nil {
			c.onDisconnect(cause)
		}
		close(c.done)
	})
}
