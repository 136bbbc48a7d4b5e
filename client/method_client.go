package client

import (
	"context"

	"msgpack-rpc/codec"
)

// MethodClient is bound to one method and converts results to R.
// Parameters may be plain Go values; structs are sent as maps keyed by field
// name.
type MethodClient[R any] struct {
	client *Client
	method string
}

func NewMethodClient[R any](c *Client, method string) *MethodClient[R] {
	return &MethodClient[R]{client: c, method: method}
}

func (m *MethodClient[R]) Method() string { return m.method }

func (m *MethodClient[R]) Request(ctx context.Context, params ...any) (R, error) {
	var out R
	args, err := genericParams(params)
	if err != nil {
		return out, err
	}
	v, err := m.client.Request(ctx, m.method, args...)
	if err != nil {
		return out, err
	}
	err = codec.Assign(&out, v)
	return out, err
}

func (m *MethodClient[R]) AsyncRequest(params ...any) (*TypedFuture[R], error) {
	args, err := genericParams(params)
	if err != nil {
		return nil, err
	}
	f, err := m.client.AsyncRequest(m.method, args...)
	if err != nil {
		return nil, err
	}
	return &TypedFuture[R]{Future: f}, nil
}

func (m *MethodClient[R]) Notify(params ...any) error {
	args, err := genericParams(params)
	if err != nil {
		return err
	}
	return m.client.Notify(m.method, args...)
}

// TypedFuture converts the result of a Future to R.
type TypedFuture[R any] struct {
	*Future
}

func (f *TypedFuture[R]) Wait(ctx context.Context) (R, error) {
	var out R
	v, err := f.Future.Wait(ctx)
	if err != nil {
		return out, err
	}
	err = codec.Assign(&out, v)
	return out, err
}

func genericParams(params []any) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		g, err := codec.ToGeneric(p)
		if err != nil {
			return nil, err
		}
		out[i] = g
	}
	return out, nil
}
