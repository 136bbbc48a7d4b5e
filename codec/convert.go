package codec

import (
	"math"
	"reflect"
	"strings"
	"time"

	"msgpack-rpc/rpcerror"
)

var timeType = reflect.TypeOf(time.Time{})

// Assign stores a decoded generic value into the Go value dst points to.
//
// Decoded values use int64/uint64 for integers, []any for arrays and
// map[string]any for maps. Assign converts them to the destination kinds,
// checking integer overflow. Structs are filled from maps by field name, by
// `msgpack` tag, or case-insensitively.
func Assign(dst any, src any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return rpcerror.Newf(rpcerror.UnexpectedNullptr, "assign destination must be a non-nil pointer, got %T", dst)
	}
	return assignValue(rv.Elem(), src)
}

// AssignValue is Assign for an addressable reflect.Value.
func AssignValue(dst reflect.Value, src any) error {
	return assignValue(dst, src)
}

func assignValue(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if dst.Kind() != reflect.Interface && sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.Interface:
		if !sv.Type().AssignableTo(dst.Type()) {
			return mismatch(src, dst.Type())
		}
		dst.Set(sv)
		return nil

	case reflect.Bool:
		b, ok := src.(bool)
		if !ok {
			return mismatch(src, dst.Type())
		}
		dst.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if u, isUint := src.(uint64); isUint && u > math.MaxInt64 {
			return rpcerror.Newf(rpcerror.ParseError, "value %d overflows %s", u, dst.Type())
		}
		n, ok := toInt64(src)
		if !ok {
			return mismatch(src, dst.Type())
		}
		if dst.OverflowInt(n) {
			return rpcerror.Newf(rpcerror.ParseError, "value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var u uint64
		switch x := src.(type) {
		case uint64:
			u = x
		default:
			n, ok := toInt64(src)
			if !ok {
				return mismatch(src, dst.Type())
			}
			if n < 0 {
				return rpcerror.Newf(rpcerror.ParseError, "negative value %d for %s", n, dst.Type())
			}
			u = uint64(n)
		}
		if dst.OverflowUint(u) {
			return rpcerror.Newf(rpcerror.ParseError, "value %d overflows %s", u, dst.Type())
		}
		dst.SetUint(u)
		return nil

	case reflect.Float32, reflect.Float64:
		var f float64
		switch x := src.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		default:
			n, ok := toInt64(src)
			if !ok {
				return mismatch(src, dst.Type())
			}
			f = float64(n)
		}
		dst.SetFloat(f)
		return nil

	case reflect.String:
		switch x := src.(type) {
		case string:
			dst.SetString(x)
		case []byte:
			dst.SetString(string(x))
		default:
			return mismatch(src, dst.Type())
		}
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch x := src.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), x...))
				return nil
			case string:
				dst.SetBytes([]byte(x))
				return nil
			}
		}
		arr, ok := src.([]any)
		if !ok {
			return mismatch(src, dst.Type())
		}
		out := reflect.MakeSlice(dst.Type(), len(arr), len(arr))
		for i, elem := range arr {
			if err := assignValue(out.Index(i), elem); err != nil {
				return rpcerror.Newf(rpcerror.ParseError, "index %d: %s", i, rpcerror.Info(err).Message)
			}
		}
		dst.Set(out)
		return nil

	case reflect.Array:
		arr, ok := src.([]any)
		if !ok {
			return mismatch(src, dst.Type())
		}
		if len(arr) != dst.Len() {
			return rpcerror.Newf(rpcerror.ParseError, "array of %d elements for %s", len(arr), dst.Type())
		}
		for i, elem := range arr {
			if err := assignValue(dst.Index(i), elem); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		m, ok := src.(map[string]any)
		if !ok || dst.Type().Key().Kind() != reflect.String {
			return mismatch(src, dst.Type())
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(m))
		for k, elem := range m {
			ev := reflect.New(dst.Type().Elem()).Elem()
			if err := assignValue(ev, elem); err != nil {
				return rpcerror.Newf(rpcerror.ParseError, "key %q: %s", k, rpcerror.Info(err).Message)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), ev)
		}
		dst.Set(out)
		return nil

	case reflect.Struct:
		m, ok := src.(map[string]any)
		if !ok {
			return mismatch(src, dst.Type())
		}
		return assignStruct(dst, m)

	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := assignValue(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	return mismatch(src, dst.Type())
}

func assignStruct(dst reflect.Value, m map[string]any) error {
	typ := dst.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		name, ok := fieldName(f)
		if !ok {
			continue
		}
		v, found := m[name]
		if !found {
			for k, candidate := range m {
				if strings.EqualFold(k, name) {
					v, found = candidate, true
					break
				}
			}
		}
		if !found {
			continue
		}
		if err := assignValue(dst.Field(i), v); err != nil {
			return rpcerror.Newf(rpcerror.ParseError, "field %s: %s", f.Name, rpcerror.Info(err).Message)
		}
	}
	return nil
}

// ToGeneric converts a Go value into the generic shape the encoder accepts:
// structs become map[string]any, slices become []any (except []byte) and
// maps with string keys become map[string]any.
func ToGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return toGeneric(reflect.ValueOf(v), 0)
}

func toGeneric(v reflect.Value, depth int) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if depth > MaxNesting {
		return nil, errTooDeep(v.Type())
	}
	if v.Type() == timeType {
		return v.Interface(), nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32:
		return float32(v.Float()), nil
	case reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return toGeneric(v.Elem(), depth+1)
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			elem, err := toGeneric(v.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, rpcerror.Newf(rpcerror.EncodingError, "map key type %s is not supported", v.Type().Key())
		}
		if v.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			elem, err := toGeneric(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = elem
		}
		return out, nil
	case reflect.Struct:
		typ := v.Type()
		out := make(map[string]any, typ.NumField())
		for i := 0; i < typ.NumField(); i++ {
			name, ok := fieldName(typ.Field(i))
			if !ok {
				continue
			}
			elem, err := toGeneric(v.Field(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[name] = elem
		}
		return out, nil
	}
	return nil, rpcerror.Newf(rpcerror.EncodingError, "type %s is not supported", v.Type())
}

// fieldName honours `msgpack:"name"` and `msgpack:"-"` tags.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("msgpack")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return f.Name, true
}

func mismatch(src any, typ reflect.Type) error {
	return rpcerror.Newf(rpcerror.ParseError, "cannot assign %s (%T) to %s", FormatValue(src), src, typ)
}
