package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"nanorpc/client"
	"nanorpc/message"
	"nanorpc/server"
	"nanorpc/stub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dialCalculator(t *testing.T) (*client.Client, *server.Server) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	srv := server.New(server.WithLogger(logger))
	require.NoError(t, registerCalculator(srv, logger))

	a, b := net.Pipe()
	sess := srv.ServeConn(a)
	c := client.New(b, client.WithLogger(logger))
	t.Cleanup(func() {
		_ = c.Close()
		<-c.Done()
		<-sess.Done()
	})
	return c, srv
}

type computedLog struct{ lines chan string }

var computedInterface = stub.MustInterface(CalculatorEvents, stub.Method{
	Name:   "Computed",
	Params: []stub.Arg{{Type: stub.String}},
	Invoke: func(impl any, args []any) (any, error) {
		impl.(*computedLog).lines <- args[0].(string)
		return nil, nil
	},
})

func TestCalculatorAdd(t *testing.T) {
	c, _ := dialCalculator(t)
	events := &computedLog{lines: make(chan string, 1)}
	require.NoError(t, c.RegisterEventListener("", events, computedInterface))
	require.NoError(t, c.StartListening(CalculatorEvents))

	v, err := c.Service("Calculator").Call("Add", message.Int32(40), message.Int32(2))
	require.NoError(t, err)
	sum, err := v.Int32Value()
	require.NoError(t, err)
	assert.Equal(t, int32(42), sum)
	assert.Equal(t, "40 + 2 = 42", <-events.lines)
}

func TestCalculatorDivide(t *testing.T) {
	c, _ := dialCalculator(t)
	calc := c.Service("Calculator")

	v, err := calc.Call("Divide", message.Double(7), message.Double(2))
	require.NoError(t, err)
	q, err := v.DoubleValue()
	require.NoError(t, err)
	assert.InDelta(t, 3.5, q, 1e-9)

	_, err = calc.Call("Divide", message.Double(1), message.Double(0))
	assert.Equal(t, message.StatusInvalidCallParameter, message.StatusOf(err))
	assert.ErrorContains(t, err, "division by zero")
}

func TestCalculatorAccumulator(t *testing.T) {
	c, srv := dialCalculator(t)
	before := srv.Objects().Len()

	acc, err := c.Service("Calculator").Object("NewAccumulator")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, before+1, srv.Objects().Len())

	for _, n := range []int64{5, 10, -3} {
		_, err := acc.Call("Add", message.Int64(n))
		require.NoError(t, err)
	}
	v, err := acc.Call("Total")
	require.NoError(t, err)
	total, err := v.Int64Value()
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)

	require.NoError(t, acc.Close())
	assert.Equal(t, before, srv.Objects().Len())
}
