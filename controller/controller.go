// Package controller enforces which messages each side of a channel may send and accept.
//
// A channel has exactly one client and one server. The client issues calls and receives
// their results plus server-initiated events; the server receives calls and answers them:
//
//	client ── Call(ExpectsResult) ──────────→ server
//	client ←───────────── Result(same id) ─── server
//	client ←── Call(event, no result) ─────── server
//
// Anything else arriving on a channel is a protocol error. The message is dropped and the
// error returned to the channel, which logs it and keeps reading.
package controller

import (
	"errors"
	"sync"

	"nanorpc/message"
)

var (
	// ErrNoChannel is returned by Send before a channel has been bound.
	ErrNoChannel = errors.New("controller: no channel")
	// ErrNoRecipient is returned by Receive before a recipient has been set.
	ErrNoRecipient = errors.New("controller: no recipient")
	// ErrReplyWithoutID is returned when a server tries to answer a call that carries no id.
	ErrReplyWithoutID = errors.New("controller: reply without call id")
)

// Role is the side of the channel a controller speaks for.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// Sender writes a message to the peer. transport.Channel implements it.
type Sender interface {
	Send(m *message.Message) error
}

// Recipient consumes the messages a controller accepts.
type Recipient interface {
	Receive(m *message.Message) error
}

// RecipientFunc adapts a function to Recipient.
type RecipientFunc func(m *message.Message) error

func (f RecipientFunc) Receive(m *message.Message) error { return f(m) }

// Controller sits between a channel and the client or server logic.
type Controller struct {
	role Role

	mu        sync.RWMutex
	sender    Sender
	recipient Recipient
}

// NewClient returns a controller for the calling side.
func NewClient() *Controller { return &Controller{role: RoleClient} }

// NewServer returns a controller for the serving side.
func NewServer() *Controller { return &Controller{role: RoleServer} }

// Role returns the fixed role of c.
func (c *Controller) Role() Role { return c.role }

// Bind attaches the channel used by Send.
func (c *Controller) Bind(s Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// SetRecipient sets the consumer of accepted messages.
func (c *Controller) SetRecipient(r Recipient) {
	c.mu.Lock()
	c.recipient = r
	c.mu.Unlock()
}

// Send forwards m to the bound channel.
func (c *Controller) Send(m *message.Message) error {
	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()
	if sender == nil {
		return ErrNoChannel
	}
	if c.role == RoleServer && m.HasResult() && !m.HasID {
		return ErrReplyWithoutID
	}
	return sender.Send(m)
}

// Reply answers call with result, reusing the call's id.
func (c *Controller) Reply(call *message.Message, result *message.Result) error {
	if !call.HasID {
		return ErrReplyWithoutID
	}
	reply := &message.Message{Result: result}
	reply.SetID(call.ID)
	return c.Send(reply)
}

// Receive validates m for the controller's role and hands it to the recipient.
// Rejected messages yield a *message.Error with StatusProtocolError.
func (c *Controller) Receive(m *message.Message) error {
	c.mu.RLock()
	recipient := c.recipient
	c.mu.RUnlock()
	if recipient == nil {
		return ErrNoRecipient
	}

	var err error
	if c.role == RoleClient {
		err = validateClient(m)
	} else {
		err = validateServer(m)
	}
	if err != nil {
		return err
	}
	return recipient.Receive(m)
}

func validateClient(m *message.Message) error {
	switch {
	case m.HasResult():
		if m.HasCall() && m.Result.Status.OK() {
			return message.Errorf(message.StatusProtocolError, "successful result must not carry a call")
		}
		return nil
	case m.HasCall():
		if m.Call.ExpectsResult {
			return message.Errorf(message.StatusProtocolError, "client does not serve calls (%s.%s)", m.Call.Service, m.Call.Method)
		}
		return nil
	default:
		return message.Errorf(message.StatusProtocolError, "message carries neither call nor result")
	}
}

func validateServer(m *message.Message) error {
	switch {
	case m.HasCall():
		return nil
	case m.HasResult() && !m.Result.Status.OK():
		return nil
	case m.HasResult():
		return message.Errorf(message.StatusProtocolError, "server does not accept successful results")
	default:
		return message.Errorf(message.StatusProtocolError, "message carries neither call nor result")
	}
}
