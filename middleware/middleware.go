// Package middleware wraps executor invocation on the server.
//
// Chain(A, B, C)(h) builds A(B(C(h))), so A runs first on the way in and last
// on the way out. Middlewares run inside the dispatcher's fault boundary.
package middleware

import (
	"context"

	"msgpack-rpc/message"
)

// HandlerFunc handles a *message.Request or *message.Notification. It returns
// the response for a request and nil for a notification.
type HandlerFunc func(ctx context.Context, msg message.Message) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Reject answers msg with errValue without calling the handler. A
// notification has nobody to answer, so Reject returns nil for it.
func Reject(msg message.Message, errValue any) *message.Response {
	req, ok := msg.(*message.Request)
	if !ok {
		return nil
	}
	return &message.Response{MsgID: req.MsgID, Error: errValue}
}

func methodOf(msg message.Message) string {
	name, _ := message.MethodOf(msg)
	return name
}
