package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nanorpc/log"
	"nanorpc/message"
)

// Recover turns a panicking handler into a ProtocolError result, so one faulty method
// cannot take down the read loop of its channel.
func Recover(logger *zap.Logger) Middleware {
	logger = log.OrDiscard(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (res *message.Result) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("call panicked",
						zap.String("service", call.Service),
						zap.Uint32("object_id", call.ObjectID),
						zap.String("method", call.Method),
						zap.Any("panic", r),
						zap.StackSkip("stack", 2))
					res = message.Failed(message.StatusProtocolError, fmt.Sprintf("%s panicked: %v", call.Method, r))
				}
			}()
			return next(ctx, call)
		}
	}
}
