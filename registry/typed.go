package registry

import (
	"context"
	"reflect"

	"github.com/go-faster/errors"

	"msgpack-rpc/codec"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// typedFunc is a reflected Go function accepted by NewTypedExecutor.
type typedFunc struct {
	fn       reflect.Value
	withCtx  bool
	argTypes []reflect.Type
	hasValue bool
	hasError bool
}

// NewTypedExecutor wraps a plain Go function of one of the shapes
//
//	func([ctx context.Context,] A1, A2, ...) (R, error)
//	func([ctx context.Context,] A1, A2, ...) R
//	func([ctx context.Context,] A1, A2, ...) error
//	func([ctx context.Context,] A1, A2, ...)
//
// Parameters are converted with codec.Assign and the result with
// codec.ToGeneric. A wrong parameter count or an unconvertible parameter
// produces an error response.
func NewTypedExecutor(name string, fn any, opts ...FuncOption) (*FuncExecutor, error) {
	tf, err := reflectFunc(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "method %q", name)
	}
	return NewFuncExecutor(name, tf.call, opts...), nil
}

func reflectFunc(fn any) (*typedFunc, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.Errorf("handler must be a function, got %T", fn)
	}
	typ := v.Type()
	if typ.IsVariadic() {
		return nil, errors.Errorf("variadic handler %s is not supported", typ)
	}

	tf := &typedFunc{fn: v}
	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if i == 0 && in == contextType {
			tf.withCtx = true
			continue
		}
		tf.argTypes = append(tf.argTypes, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			tf.hasError = true
		} else {
			tf.hasValue = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, errors.Errorf("second result of %s must be error", typ)
		}
		tf.hasValue, tf.hasError = true, true
	default:
		return nil, errors.Errorf("handler %s returns too many values", typ)
	}
	return tf, nil
}

func (tf *typedFunc) call(ctx context.Context, params []any) (any, error) {
	if len(params) != len(tf.argTypes) {
		return nil, errors.Errorf("invalid number of parameters: expected %d, got %d", len(tf.argTypes), len(params))
	}

	args := make([]reflect.Value, 0, len(params)+1)
	if tf.withCtx {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}
	for i, p := range params {
		arg := reflect.New(tf.argTypes[i]).Elem()
		if err := codec.AssignValue(arg, p); err != nil {
			return nil, errors.Wrapf(err, "parameter %d", i)
		}
		args = append(args, arg)
	}

	out := tf.fn.Call(args)

	if tf.hasError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if !tf.hasValue {
		return nil, nil
	}
	return codec.ToGeneric(out[0].Interface())
}

// RegisterService registers every exported method of rcvr whose signature
// NewTypedExecutor accepts, under "<Type>.<Method>". It returns the names
// registered.
func (r *Registry) RegisterService(rcvr any, opts ...FuncOption) ([]string, error) {
	val := reflect.ValueOf(rcvr)
	typ := val.Type()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("service must be a pointer to a struct, got %s", typ)
	}
	service := typ.Elem().Name()

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if _, err := reflectFunc(val.Method(i).Interface()); err != nil {
			continue
		}
		name := service + "." + m.Name
		if err := r.RegisterTyped(name, val.Method(i).Interface(), opts...); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("service %s has no suitable methods", service)
	}
	return names, nil
}
