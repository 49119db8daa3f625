package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nanorpc/log"
	"nanorpc/message"
)

// Logging logs every dispatched call with its duration. Failures are logged at Warn.
func Logging(logger *zap.Logger) Middleware {
	logger = log.OrDiscard(logger)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) *message.Result {
			start := time.Now()
			res := next(ctx, call)

			fields := []zap.Field{
				zap.String("service", call.Service),
				zap.Uint32("object_id", call.ObjectID),
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if info, ok := CallInfoFrom(ctx); ok {
				fields = append(fields, zap.String("session", info.SessionID))
				if info.HasID {
					fields = append(fields, zap.Uint32("call_id", info.CallID))
				}
			}
			if res != nil && !res.Status.OK() {
				fields = append(fields, zap.Stringer("status", res.Status), zap.String("error", res.ErrorMessage))
				logger.Warn("call failed", fields...)
				return res
			}
			logger.Debug("call served", fields...)
			return res
		}
	}
}
