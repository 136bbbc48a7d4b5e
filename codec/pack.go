package codec

import (
	"reflect"

	"github.com/tinylib/msgp/msgp"

	"msgpack-rpc/message"
)

// Fixed array lengths of each message type on the wire.
const (
	RequestArity      = 4
	ResponseArity     = 4
	NotificationArity = 3
)

// PackRequest writes [0, msgid, method, params].
func PackRequest(msgID message.MsgID, method string, params []any) ([]byte, error) {
	b := msgp.AppendArrayHeader(nil, RequestArity)
	b = msgp.AppendInt(b, int(message.MsgTypeRequest))
	b = msgp.AppendUint32(b, uint32(msgID))
	b = msgp.AppendString(b, method)
	return appendParams(b, params)
}

// PackResponse writes [1, msgid, error, result].
func PackResponse(msgID message.MsgID, errValue, result any) ([]byte, error) {
	b := msgp.AppendArrayHeader(nil, ResponseArity)
	b = msgp.AppendInt(b, int(message.MsgTypeResponse))
	b = msgp.AppendUint32(b, uint32(msgID))

	var err error
	if b, err = appendValue(b, errValue); err != nil {
		return nil, err
	}
	return appendValue(b, result)
}

// PackSuccess writes a response carrying result.
func PackSuccess(msgID message.MsgID, result any) ([]byte, error) {
	return PackResponse(msgID, nil, result)
}

// PackError writes a response carrying errValue and a nil result.
func PackError(msgID message.MsgID, errValue any) ([]byte, error) {
	return PackResponse(msgID, errValue, nil)
}

// PackNotification writes [2, method, params].
func PackNotification(method string, params []any) ([]byte, error) {
	b := msgp.AppendArrayHeader(nil, NotificationArity)
	b = msgp.AppendInt(b, int(message.MsgTypeNotification))
	b = msgp.AppendString(b, method)
	return appendParams(b, params)
}

// params is always written as an array, even when nil.
func appendParams(b []byte, params []any) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, uint32(len(params)))
	var err error
	for _, p := range params {
		if b, err = appendValue(b, p); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// appendValue writes v with the MessagePack runtime. The runtime recurses
// without a limit, so nesting is checked first.
func appendValue(b []byte, v any) ([]byte, error) {
	if err := checkNesting(reflect.ValueOf(v), 0); err != nil {
		return nil, encodingError(v, err)
	}
	out, err := msgp.AppendIntf(b, v)
	if err != nil {
		return nil, encodingError(v, err)
	}
	return out, nil
}

func checkNesting(v reflect.Value, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > MaxNesting {
		return errTooDeep(v.Type())
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return checkNesting(v.Elem(), depth+1)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkNesting(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkNesting(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
