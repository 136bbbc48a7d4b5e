package middleware

import (
	"context"
	"fmt"
	"time"

	"msgpack-rpc/message"
)

// ErrTimedOut is the response error sent when Timeout gives up on a handler.
const ErrTimedOut = "request timed out"

// Timeout bounds each call. The handler keeps running in its own goroutine
// after the deadline, but its result is discarded. Panics in that goroutine
// are converted to error responses so they cannot escape the dispatcher.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- Reject(msg, fmt.Sprintf("method %s panicked: %v", methodOf(msg), r))
					}
				}()
				done <- next(ctx, msg)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return Reject(msg, ErrTimedOut)
			}
		}
	}
}
