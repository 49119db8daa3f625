// Package middleware wraps the dispatch of incoming calls.
//
// A server builds its chain once; every call then passes through it before reaching the
// target object:
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//	A.before → B.before → C.before → dispatch → C.after → B.after → A.after
package middleware

import (
	"context"

	"nanorpc/message"
)

// HandlerFunc handles one call and returns its result. It has the shape of
// registry.Service's CallMethod.
type HandlerFunc func(ctx context.Context, call *message.Call) *message.Result

// Middleware decorates a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type callInfoKey struct{}

// CallInfo describes the call being dispatched, for middlewares that log or trace.
type CallInfo struct {
	SessionID string
	CallID    uint32
	HasID     bool
}

// WithCallInfo attaches info to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the info attached by the server, if any.
func CallInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
