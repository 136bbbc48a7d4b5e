package registry

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"msgpack-rpc/logging"
	"msgpack-rpc/message"
)

// Func is the handler behind a FuncExecutor. params are the decoded
// request parameters; the returned value becomes the response result.
type Func func(ctx context.Context, params []any) (any, error)

// Validator checks, and may replace, one parameter or the result.
type Validator func(v any) (any, error)

// Error lets a handler choose the value sent in the response error field.
// Any other error is sent as its message string.
type Error struct {
	Value any
}

func (e *Error) Error() string { return fmt.Sprint(e.Value) }

// ErrorValue is the response error field for err.
func ErrorValue(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Value
	}
	return err.Error()
}

// FuncExecutor runs a Func with optional per-parameter and result validators.
// Validator failures and handler panics become error responses.
type FuncExecutor struct {
	name   string
	fn     Func
	params []Validator
	result Validator
	logger *zap.Logger
}

type FuncOption func(*FuncExecutor)

// WithParamValidators sets one validator per parameter position. A nil entry
// skips that position. When set, the parameter count must match exactly.
func WithParamValidators(vs ...Validator) FuncOption {
	return func(e *FuncExecutor) { e.params = vs }
}

func WithResultValidator(v Validator) FuncOption {
	return func(e *FuncExecutor) { e.result = v }
}

func WithLogger(l *zap.Logger) FuncOption {
	return func(e *FuncExecutor) { e.logger = logging.OrNop(l) }
}

func NewFuncExecutor(name string, fn Func, opts ...FuncOption) *FuncExecutor {
	e := &FuncExecutor{name: name, fn: fn, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("mprpc.method." + name)
	return e
}

func (e *FuncExecutor) HandleRequest(ctx context.Context, req *message.Request) *message.Response {
	result, err := e.call(ctx, req.Params)
	if err != nil {
		e.logger.Debug("request failed", zap.Uint32("msgid", uint32(req.MsgID)), zap.Error(err))
		return &message.Response{MsgID: req.MsgID, Error: ErrorValue(err)}
	}
	return &message.Response{MsgID: req.MsgID, Result: result}
}

func (e *FuncExecutor) HandleNotification(ctx context.Context, n *message.Notification) {
	if _, err := e.call(ctx, n.Params); err != nil {
		e.logger.Warn("notification failed", zap.Error(err))
	}
}

func (e *FuncExecutor) call(ctx context.Context, params []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, errors.Errorf("method %s panicked: %v", e.name, r)
		}
	}()

	if e.params != nil {
		if len(params) != len(e.params) {
			return nil, errors.Errorf("invalid number of parameters: expected %d, got %d", len(e.params), len(params))
		}
		checked := make([]any, len(params))
		for i, p := range params {
			checked[i] = p
			if e.params[i] == nil {
				continue
			}
			if checked[i], err = e.params[i](p); err != nil {
				return nil, errors.Wrapf(err, "parameter %d", i)
			}
		}
		params = checked
	}

	result, err = e.fn(ctx, params)
	if err != nil {
		return nil, err
	}
	if e.result != nil {
		if result, err = e.result(result); err != nil {
			return nil, errors.Wrap(err, "result")
		}
	}
	return result, nil
}
