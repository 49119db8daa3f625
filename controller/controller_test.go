package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanorpc/message"
)

type recorder struct {
	got []*message.Message
}

func (r *recorder) Send(m *message.Message) error {
	r.got = append(r.got, m)
	return nil
}

func (r *recorder) Receive(m *message.Message) error {
	r.got = append(r.got, m)
	return nil
}

func withID(m *message.Message, id uint32) *message.Message {
	m.SetID(id)
	return m
}

func isProtocolError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, message.StatusProtocolError, message.StatusOf(err))
}

func TestSendRequiresChannel(t *testing.T) {
	c := NewClient()
	require.ErrorIs(t, c.Send(&message.Message{Call: message.NewCall("Foo", "Bar")}), ErrNoChannel)

	ch := &recorder{}
	c.Bind(ch)
	require.NoError(t, c.Send(&message.Message{Call: message.NewCall("Foo", "Bar")}))
	assert.Len(t, ch.got, 1)
}

func TestReceiveRequiresRecipient(t *testing.T) {
	c := NewServer()
	require.ErrorIs(t, c.Receive(&message.Message{Call: message.NewCall("Foo", "Bar")}), ErrNoRecipient)
}

func TestClientReceive(t *testing.T) {
	c := NewClient()
	rec := &recorder{}
	c.SetRecipient(rec)

	// reply to a call
	require.NoError(t, c.Receive(withID(&message.Message{Result: message.Succeeded(nil)}, 1)))
	// event
	require.NoError(t, c.Receive(&message.Message{Call: message.NewCall("Events", "Fired")}))
	// failure carrying the call it answers
	require.NoError(t, c.Receive(&message.Message{
		Call:   message.NewCall("Foo", "Bar"),
		Result: message.Failed(message.StatusChannelFailure, "down"),
	}))
	assert.Len(t, rec.got, 3)

	isProtocolError(t, c.Receive(&message.Message{
		Call:   message.NewCall("Foo", "Bar"),
		Result: message.Succeeded(nil),
	}))

	call := message.NewCall("Foo", "Bar")
	call.ExpectsResult = true
	isProtocolError(t, c.Receive(withID(&message.Message{Call: call}, 2)))

	isProtocolError(t, c.Receive(&message.Message{}))
	assert.Len(t, rec.got, 3, "rejected messages are not delivered")
}

func TestServerReceive(t *testing.T) {
	c := NewServer()
	rec := &recorder{}
	c.SetRecipient(rec)

	call := message.NewCall("Foo", "Bar")
	call.ExpectsResult = true
	require.NoError(t, c.Receive(withID(&message.Message{Call: call}, 1)))
	require.NoError(t, c.Receive(&message.Message{Result: message.Failed(message.StatusChannelFailure, "down")}))
	assert.Len(t, rec.got, 2)

	isProtocolError(t, c.Receive(withID(&message.Message{Result: message.Succeeded(nil)}, 1)))
	isProtocolError(t, c.Receive(&message.Message{}))
	assert.Len(t, rec.got, 2)
}

func TestReply(t *testing.T) {
	c := NewServer()
	ch := &recorder{}
	c.Bind(ch)

	call := withID(&message.Message{Call: message.NewCall("Foo", "Bar")}, 77)
	require.NoError(t, c.Reply(call, message.Succeeded(message.Int32(42).Ptr())))
	require.Len(t, ch.got, 1)
	assert.True(t, ch.got[0].HasID)
	assert.Equal(t, uint32(77), ch.got[0].ID)

	require.ErrorIs(t, c.Reply(&message.Message{Call: message.NewCall("Foo", "Bar")}, message.Succeeded(nil)), ErrReplyWithoutID)
	require.ErrorIs(t, c.Send(&message.Message{Result: message.Succeeded(nil)}), ErrReplyWithoutID)
	assert.Len(t, ch.got, 1)
}

func TestRole(t *testing.T) {
	assert.Equal(t, RoleClient, NewClient().Role())
	assert.Equal(t, "server", NewServer().Role().String())
}
