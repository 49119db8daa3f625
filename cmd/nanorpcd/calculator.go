package main

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nanorpc/message"
	"nanorpc/server"
	"nanorpc/stub"
)

// Calculator is the demo service nanorpcd exposes.
type Calculator struct {
	events *server.EventSource
	logger *zap.Logger
}

// Accumulator is a per-client object handed out by Calculator.NewAccumulator.
type Accumulator struct {
	mu    sync.Mutex
	total int64
}

func (c *Calculator) Add(a, b int32) int32 {
	sum := a + b
	if err := c.events.Fire("Computed", message.String(fmt.Sprintf("%d + %d = %d", a, b, sum))); err != nil {
		c.logger.Warn("computed event not delivered", zap.Error(err))
	}
	return sum
}

func (c *Calculator) Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, message.Errorf(message.StatusInvalidCallParameter, "division by zero")
	}
	return a / b, nil
}

func (c *Calculator) NewAccumulator() *Accumulator { return &Accumulator{} }

func (a *Accumulator) Add(n int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += n
	return a.total
}

func (a *Accumulator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// CalculatorEvents is the event interface clients subscribe to.
const CalculatorEvents = "Calculator.Events"

var accumulatorInterface = stub.MustInterface("Calculator.Accumulator",
	stub.Method{
		Name:    "Add",
		Params:  []stub.Arg{{Type: stub.Int64}},
		Returns: stub.Arg{Type: stub.Int64},
		Invoke: func(impl any, args []any) (any, error) {
			return impl.(*Accumulator).Add(args[0].(int64)), nil
		},
	},
	stub.Method{
		Name:    "Total",
		Returns: stub.Arg{Type: stub.Int64},
		Invoke: func(impl any, _ []any) (any, error) {
			return impl.(*Accumulator).Total(), nil
		},
	},
)

var calculatorInterface = stub.MustInterface("Calculator",
	stub.Method{
		Name:    "Add",
		Params:  []stub.Arg{{Type: stub.Int32}, {Type: stub.Int32}},
		Returns: stub.Arg{Type: stub.Int32},
		Invoke: func(impl any, args []any) (any, error) {
			return impl.(*Calculator).Add(args[0].(int32), args[1].(int32)), nil
		},
	},
	stub.Method{
		Name:    "Divide",
		Params:  []stub.Arg{{Type: stub.Double}, {Type: stub.Double}},
		Returns: stub.Arg{Type: stub.Double},
		Invoke: func(impl any, args []any) (any, error) {
			return impl.(*Calculator).Divide(args[0].(float64), args[1].(float64))
		},
	},
	stub.Method{
		Name:    "NewAccumulator",
		Returns: stub.Arg{Type: stub.Object, Interface: accumulatorInterface},
		Invoke: func(impl any, _ []any) (any, error) {
			return impl.(*Calculator).NewAccumulator(), nil
		},
	},
)

// registerCalculator exposes a Calculator on srv.
func registerCalculator(srv *server.Server, logger *zap.Logger) error {
	calc := &Calculator{events: srv.EventSource(CalculatorEvents), logger: logger}
	if _, err := srv.Register(calc, calculatorInterface); err != nil {
		return fmt.Errorf("register calculator: %w", err)
	}
	return nil
}
