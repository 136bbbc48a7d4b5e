package client

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"msgpack-rpc/message"
	"msgpack-rpc/rpcerror"
)

// Future is the pending result of one request. It resolves exactly once:
// with the response, with a bulk failure, or with a timeout.
type Future struct {
	id     message.MsgID
	method string
	table  *pendingTable
	done   chan struct{}
	once   sync.Once

	value any
	err   error
}

func newFuture(id message.MsgID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// MsgID is the identifier the request was sent with.
func (f *Future) MsgID() message.MsgID { return f.id }

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// resolve reports whether this call won the race to settle f.
func (f *Future) resolve(value any, err error) bool {
	won := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		won = true
	})
	return won
}

// Result returns the outcome of a resolved future. Calling it earlier is an
// InvalidFutureUse error.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, rpcerror.Newf(rpcerror.InvalidFutureUse, "result of request %d is not ready", f.id)
	}
}

// Wait blocks until f resolves or ctx ends. When ctx ends first, the request
// is withdrawn and f resolves with Timeout on a deadline, or with the context
// error otherwise. A response arriving later is dropped.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		if f.table == nil || f.table.withdraw(f) {
			f.resolve(nil, f.waitError(ctx))
		}
		// Otherwise the response path already owns f and resolves it shortly.
		<-f.done
	}
	return f.value, f.err
}

func (f *Future) waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rpcerror.Newf(rpcerror.Timeout, "request %d (%s) timed out", f.id, f.method)
	}
	return errors.Wrapf(ctx.Err(), "request %d (%s)", f.id, f.method)
}
