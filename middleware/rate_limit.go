package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"msgpack-rpc/message"
)

// ErrRateLimited is the response error sent when RateLimit rejects a call.
const ErrRateLimited = "rate limit exceeded"

// RateLimit admits calls through a token bucket of r per second with the given
// burst. Rejected requests get an error response; rejected notifications are
// dropped.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			if !limiter.Allow() {
				return Reject(msg, ErrRateLimited)
			}
			return next(ctx, msg)
		}
	}
}
