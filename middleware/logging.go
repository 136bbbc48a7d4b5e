package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"msgpack-rpc/message"
)

// Logging logs every call with its method and duration, and failed requests
// at warn level.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			start := time.Now()
			resp := next(ctx, msg)

			fields := []zap.Field{
				zap.String("method", methodOf(msg)),
				zap.Stringer("type", msg.Type()),
				zap.Duration("duration", time.Since(start)),
			}
			if req, ok := msg.(*message.Request); ok {
				fields = append(fields, zap.Uint32("msgid", uint32(req.MsgID)))
			}
			if resp != nil && resp.HasError() {
				logger.Warn("call failed", append(fields, zap.Any("error", resp.Error))...)
				return resp
			}
			logger.Info("call", fields...)
			return resp
		}
	}
}
