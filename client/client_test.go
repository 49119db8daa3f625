package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nanorpc/codec"
	"nanorpc/discovery"
	"nanorpc/loadbalance"
	"nanorpc/message"
	"nanorpc/protocol"
	"nanorpc/registry"
	"nanorpc/stub"
	"nanorpc/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// peer is a hand-driven server end of a pipe.
type peer struct {
	t    *testing.T
	conn net.Conn
}

func newPair(t *testing.T) (*Client, *peer) {
	t.Helper()
	a, b := net.Pipe()
	c := New(a)
	t.Cleanup(func() {
		_ = c.Close()
		_ = b.Close()
		<-c.Done()
	})
	return c, &peer{t: t, conn: b}
}

func (p *peer) read() *message.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := protocol.ReadFrame(p.conn, protocol.DefaultLimits())
	require.NoError(p.t, err)
	m, err := codec.Unmarshal(payload)
	require.NoError(p.t, err)
	return m
}

func (p *peer) write(m *message.Message) {
	p.t.Helper()
	payload, err := codec.Marshal(m)
	require.NoError(p.t, err)
	require.NoError(p.t, protocol.WriteFrame(p.conn, payload, protocol.DefaultLimits()))
}

func (p *peer) reply(call *message.Message, res *message.Result) {
	p.t.Helper()
	m := &message.Message{Result: res}
	m.SetID(call.ID)
	p.write(m)
}

type invokeResult struct {
	v   *message.Parameter
	err error
}

func invokeAsync(c *Client, call *message.Call) <-chan invokeResult {
	out := make(chan invokeResult, 1)
	go func() {
		v, err := c.Invoke(call)
		out <- invokeResult{v: v, err: err}
	}()
	return out
}

func TestInvokeRoundTrip(t *testing.T) {
	c, p := newPair(t)

	done := invokeAsync(c, message.NewCall("Foo", "Bar"))
	call := p.read()
	require.True(t, call.HasID)
	assert.True(t, call.Call.ExpectsResult)
	assert.Equal(t, "Foo", call.Call.Service)
	assert.Equal(t, 1, c.Pending())

	p.reply(call, message.Succeeded(message.Int32(42).Ptr()))
	res := <-done
	require.NoError(t, res.err)
	n, err := res.v.Int32Value()
	require.NoError(t, err)
	assert.Equal(t, int32(42), n)
	assert.Equal(t, 0, c.Pending())
}

func TestRepliesOutOfOrder(t *testing.T) {
	c, p := newPair(t)

	first := invokeAsync(c, message.NewCall("Foo", "One"))
	m1 := p.read()
	second := invokeAsync(c, message.NewCall("Foo", "Two"))
	m2 := p.read()
	assert.NotEqual(t, m1.ID, m2.ID)

	p.reply(m2, message.Succeeded(message.String("two").Ptr()))
	p.reply(m1, message.Failed(message.StatusUnknownMethod, "no One"))

	r2 := <-second
	require.NoError(t, r2.err)
	s, _ := r2.v.StringValue()
	assert.Equal(t, "two", s)

	r1 := <-first
	var rpcErr *message.Error
	require.ErrorAs(t, r1.err, &rpcErr)
	assert.Equal(t, message.StatusUnknownMethod, rpcErr.Status)
	assert.Equal(t, "no One", rpcErr.Message)
}

func TestOrphanReplyKeepsChannel(t *testing.T) {
	c, p := newPair(t)

	orphan := &message.Message{Result: message.Succeeded(nil)}
	orphan.SetID(77)
	p.write(orphan)

	done := invokeAsync(c, message.NewCall("Foo", "Bar"))
	call := p.read()
	p.reply(call, message.Succeeded(nil))
	res := <-done
	require.NoError(t, res.err)
	assert.Nil(t, res.v)
}

func TestFailureResultFromPeerKeepsChannel(t *testing.T) {
	c, p := newPair(t)

	waiting := invokeAsync(c, message.NewCall("Foo", "Slow"))
	slow := p.read()

	p.write(&message.Message{Result: message.Failed(message.StatusChannelFailure, "forged")})

	done := invokeAsync(c, message.NewCall("Foo", "Bar"))
	call := p.read()
	p.reply(call, message.Succeeded(message.Int32(7).Ptr()))
	res := <-done
	require.NoError(t, res.err)
	n, _ := res.v.Int32Value()
	assert.Equal(t, int32(7), n)

	p.reply(slow, message.Succeeded(nil))
	require.NoError(t, (<-waiting).err)

	assert.Equal(t, transport.StateConnected, c.ch.State())
	assert.NoError(t, c.Err())
	select {
	case <-c.Done():
		t.Fatal("client disconnected")
	default:
	}
}

func TestDialWithDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	d := &net.Dialer{Timeout: time.Second}
	c, err := DialContext(context.Background(), "tcp", ln.Addr().String(), WithDialer(d))
	require.NoError(t, err)
	conn := <-accepted
	require.NotNil(t, conn)

	require.NoError(t, c.Close())
	<-c.Done()
	_ = conn.Close()
}

func TestSendIsOneWay(t *testing.T) {
	c, p := newPair(t)

	call := message.NewCall("Foo", "Poke", message.Bool(true))
	call.ExpectsResult = true
	require.NoError(t, c.Send(call))

	m := p.read()
	assert.False(t, m.HasID)
	assert.False(t, m.Call.ExpectsResult)
	assert.Equal(t, 0, c.Pending())
}

func TestPeerCloseFailsPendingCalls(t *testing.T) {
	c, p := newPair(t)

	done := invokeAsync(c, message.NewCall("Foo", "Bar"))
	p.read()
	require.NoError(t, p.conn.Close())

	res := <-done
	assert.Equal(t, message.StatusChannelFailure, message.StatusOf(res.err))
	<-c.Done()

	_, err := c.Invoke(message.NewCall("Foo", "Bar"))
	assert.Equal(t, message.StatusChannelFailure, message.StatusOf(err))
	assert.Equal(t, message.StatusChannelFailure, message.StatusOf(c.Send(message.NewCall("Foo", "Bar"))))
}

type ticker interface {
	Tick(n int32)
}

type tickLog struct{ ticks chan int32 }

func (l *tickLog) Tick(n int32) { l.ticks <- n }

var tickerInterface = stub.MustInterface("Test.Ticker", stub.Method{
	Name:   "Tick",
	Params: []stub.Arg{{Type: stub.Int32}},
	Invoke: func(impl any, args []any) (any, error) {
		impl.(ticker).Tick(args[0].(int32))
		return nil, nil
	},
})

func TestEventListeners(t *testing.T) {
	c, p := newPair(t)
	listener := &tickLog{ticks: make(chan int32, 4)}

	require.ErrorIs(t, c.RegisterEventListener("Test.Ticker", listener, nil), ErrNoDescriptor)
	require.NoError(t, c.RegisterEventListener("", listener, tickerInterface))

	done := make(chan error, 1)
	go func() { done <- c.StartListening("Test.Ticker") }()
	sub := p.read()
	assert.Equal(t, message.EventServiceName, sub.Call.Service)
	assert.Equal(t, "Add", sub.Call.Method)
	name, _ := sub.Call.Parameters[0].StringValue()
	assert.Equal(t, "Test.Ticker", name)
	p.reply(sub, message.Succeeded(nil))
	require.NoError(t, <-done)

	p.write(&message.Message{Call: message.NewCall("Test.Other", "Tick", message.Int32(1))})
	p.write(&message.Message{Call: message.NewCall("Test.Ticker", "Tick", message.Int32(2))})
	assert.Equal(t, int32(2), <-listener.ticks)

	c.UnregisterEventListener("Test.Ticker")
	p.write(&message.Message{Call: message.NewCall("Test.Ticker", "Tick", message.Int32(3))})

	go func() { done <- c.StopListening("Test.Ticker") }()
	unsub := p.read()
	assert.Equal(t, "Remove", unsub.Call.Method)
	p.reply(unsub, message.Succeeded(nil))
	require.NoError(t, <-done)
	assert.Empty(t, listener.ticks)
}

func TestObjectProxyClose(t *testing.T) {
	c, p := newPair(t)
	obj := c.Object(5)
	assert.Equal(t, uint32(5), obj.ID())

	done := make(chan error, 1)
	go func() { done <- obj.Close() }()
	del := p.read()
	assert.Equal(t, registry.ServiceName, del.Call.Service)
	assert.Equal(t, "Delete", del.Call.Method)
	id, err := del.Call.Parameters[0].Uint32Value()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), id)
	p.reply(del, message.Succeeded(nil))
	require.NoError(t, <-done)

	// closing again sends nothing
	require.NoError(t, obj.Close())
	_, err = obj.Call("Get")
	require.ErrorIs(t, err, ErrObjectClosed)
}

func TestProxyObjectResult(t *testing.T) {
	c, p := newPair(t)

	type objResult struct {
		o   *ObjectProxy
		err error
	}
	out := make(chan objResult, 1)
	go func() {
		o, err := c.Service("Factory").Object("Make")
		out <- objResult{o, err}
	}()
	p.reply(p.read(), message.Succeeded(message.ObjectID(12).Ptr()))
	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, uint32(12), r.o.ID())

	go func() {
		o, err := c.Service("Factory").Object("Make")
		out <- objResult{o, err}
	}()
	p.reply(p.read(), message.Succeeded(message.Int32(1).Ptr()))
	r = <-out
	require.ErrorIs(t, r.err, message.ErrParameterTypeMismatch)
}

func TestDialServiceErrors(t *testing.T) {
	ctx := context.Background()
	_, err := DialService(ctx, discovery.NewStatic(), &loadbalance.RoundRobin{}, "Missing")
	require.ErrorIs(t, err, discovery.ErrNoEndpoints)

	_, err = Dial("tcp", "127.0.0.1:1")
	require.Error(t, err)
}
