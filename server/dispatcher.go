package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"msgpack-rpc/codec"
	"msgpack-rpc/logging"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/rpcerror"
)

// CompletionHandler receives the outcome of one inbound message. It is called
// exactly once per message. hasResponse is false for notifications and for
// input that carries no request identifier.
type CompletionHandler func(info rpcerror.ErrorInfo, hasResponse bool, data []byte)

// Dispatcher turns inbound message bytes into at most one response.
//
//	bytes → Decode → Validate → Lookup → middleware chain → executor → Encode → done
//
// Everything after AsyncProcessMessage runs on the worker pool, so a slow or
// faulty handler never blocks the receive loop. Handler faults become error
// responses; faults in the dispatcher itself reach done as UnexpectedError.
//
// At most one executor per worker runs at a time, counting executors that a
// middleware such as Timeout has stopped waiting for.
type Dispatcher struct {
	registry *registry.Registry
	pool     *Pool
	slots    chan struct{}
	handler  middleware.HandlerFunc
	logger   *zap.Logger
}

type dispatcherOptions struct {
	workers     int
	logger      *zap.Logger
	middlewares []middleware.Middleware
}

type DispatcherOption func(*dispatcherOptions)

// WithWorkers sets the number of concurrent handler executions.
func WithWorkers(n int) DispatcherOption {
	return func(o *dispatcherOptions) { o.workers = n }
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(o *dispatcherOptions) { o.logger = logging.OrNop(l) }
}

// WithMiddleware wraps every executor call, first middleware outermost.
func WithMiddleware(mws ...middleware.Middleware) DispatcherOption {
	return func(o *dispatcherOptions) { o.middlewares = append(o.middlewares, mws...) }
}

// NewDispatcher seals reg and starts the worker pool.
func NewDispatcher(reg *registry.Registry, opts ...DispatcherOption) *Dispatcher {
	o := dispatcherOptions{workers: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	reg.Seal()

	pool := NewPool(o.workers)
	d := &Dispatcher{
		registry: reg,
		pool:     pool,
		slots:    make(chan struct{}, pool.Size()),
		logger:   logging.OrNop(o.logger).Named("mprpc.server"),
	}
	d.handler = middleware.Chain(o.middlewares...)(d.invoke)
	return d
}

// AsyncProcessMessage queues data for processing and returns immediately.
func (d *Dispatcher) AsyncProcessMessage(ctx context.Context, data []byte, done CompletionHandler) {
	if !d.pool.Submit(func() { d.process(ctx, data, done) }) {
		done(rpcerror.NewInfo(rpcerror.EOF, "dispatcher stopped"), false, nil)
	}
}

// ProcessMessage processes data on the calling goroutine.
func (d *Dispatcher) ProcessMessage(ctx context.Context, data []byte) (info rpcerror.ErrorInfo, hasResponse bool, out []byte) {
	d.process(ctx, data, func(i rpcerror.ErrorInfo, has bool, b []byte) {
		info, hasResponse, out = i, has, b
	})
	return info, hasResponse, out
}

// Stop finishes queued messages and stops the workers.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// Close rejects new messages without waiting. Queued messages still complete.
func (d *Dispatcher) Close() {
	d.pool.Close()
}

func (d *Dispatcher) process(ctx context.Context, data []byte, done CompletionHandler) {
	called := false
	complete := func(info rpcerror.ErrorInfo, hasResponse bool, out []byte) {
		called = true
		done(info, hasResponse, out)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch fault", zap.Any("panic", r), zap.Stack("stack"))
			if !called {
				done(rpcerror.NewInfo(rpcerror.UnexpectedError, fmt.Sprint(r)), false, nil)
			}
		}
	}()

	v, err := codec.Decode(data)
	if err != nil {
		d.logger.Debug("undecodable message", zap.Error(err))
		complete(rpcerror.Info(err), false, nil)
		return
	}
	msg, err := codec.Validate(v)
	if err != nil {
		d.rejectInvalid(v, err, complete)
		return
	}

	switch m := msg.(type) {
	case *message.Request:
		exec, ok := d.registry.Lookup(m.Method)
		if !ok {
			d.logger.Error("method not found", zap.String("method", m.Method), zap.Uint32("msgid", uint32(m.MsgID)))
			d.respond(&message.Response{MsgID: m.MsgID, Error: fmt.Sprintf("method %s not found", m.Method)}, complete)
			return
		}
		resp := d.call(ctx, exec, m)
		if resp == nil {
			resp = &message.Response{MsgID: m.MsgID, Error: fmt.Sprintf("method %s returned no response", m.Method)}
		}
		resp.MsgID = m.MsgID
		d.respond(resp, complete)

	case *message.Notification:
		exec, ok := d.registry.Lookup(m.Method)
		if !ok {
			d.logger.Error("method not found", zap.String("method", m.Method))
			complete(rpcerror.None, false, nil)
			return
		}
		d.call(ctx, exec, m)
		complete(rpcerror.None, false, nil)

	default:
		complete(rpcerror.NewInfoWithData(rpcerror.InvalidMessage,
			"dispatcher cannot handle a "+msg.Type().String(), data), false, nil)
	}
}

// rejectInvalid answers a malformed request when its identifier survived,
// and otherwise reports the ParseError without a response.
func (d *Dispatcher) rejectInvalid(v any, err error, complete CompletionHandler) {
	info := rpcerror.Info(err)
	id, ok := codec.RecoverRequestID(v)
	if !ok {
		d.logger.Debug("invalid message", zap.Stringer("error", info))
		complete(info, false, nil)
		return
	}
	d.logger.Debug("invalid request", zap.Uint32("msgid", uint32(id)), zap.String("error", info.Message))
	d.respond(&message.Response{MsgID: id, Error: info.Message}, complete)
}

// call runs the middleware chain and executor. Any fault raised there is a
// handler fault and becomes an error response.
func (d *Dispatcher) call(ctx context.Context, exec registry.Executor, msg message.Message) (resp *message.Response) {
	method, _ := message.MethodOf(msg)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler fault", zap.String("method", method), zap.Any("panic", r), zap.Stack("stack"))
			resp = middleware.Reject(msg, fmt.Sprintf("method %s panicked: %v", method, r))
		}
	}()
	return d.handler(withExecutor(ctx, exec), msg)
}

// respond encodes resp. A result the codec rejects is replaced by an error
// response naming the encoding failure.
func (d *Dispatcher) respond(resp *message.Response, complete CompletionHandler) {
	out, err := codec.Encode(resp)
	if err != nil {
		d.logger.Error("response not encodable", zap.Uint32("msgid", uint32(resp.MsgID)), zap.Error(err))
		if out, err = codec.PackError(resp.MsgID, rpcerror.Info(err).Message); err != nil {
			complete(rpcerror.Info(err), false, nil)
			return
		}
	}
	complete(rpcerror.None, true, out)
}

func (d *Dispatcher) invoke(ctx context.Context, msg message.Message) *message.Response {
	exec := executorFrom(ctx)
	if exec == nil {
		return middleware.Reject(msg, "no executor")
	}
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return middleware.Reject(msg, ctx.Err().Error())
	}
	defer func() { <-d.slots }()

	switch m := msg.(type) {
	case *message.Request:
		return exec.HandleRequest(ctx, m)
	case *message.Notification:
		exec.HandleNotification(ctx, m)
	}
	return nil
}

type executorKey struct{}

func withExecutor(ctx context.Context, exec registry.Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, exec)
}

func executorFrom(ctx context.Context) registry.Executor {
	exec, _ := ctx.Value(executorKey{}).(registry.Executor)
	return exec
}
