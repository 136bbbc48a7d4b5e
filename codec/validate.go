package codec

import (
	"fmt"
	"math"

	"github.com/tinylib/msgp/msgp"

	"msgpack-rpc/message"
	"msgpack-rpc/rpcerror"
)

// Validate checks a decoded value against the wire rules and returns the
// typed message. It has no side effects.
//
//	kind          arity  fields
//	request       4      msgid: integer in range, method: string, params: array
//	response      4      msgid: integer in range, error: any, result: any
//	notification  3      method: string, params: array
func Validate(v any) (message.Message, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, parseError("message must be an array", v)
	}
	if len(arr) == 0 {
		return nil, parseError("message must have three or four elements", v)
	}
	kind, ok := toInt64(arr[0])
	if !ok {
		return nil, parseError("the first element of a message must be an integer", v)
	}

	switch message.MsgType(kind) {
	case message.MsgTypeRequest:
		return validateRequest(arr)
	case message.MsgTypeResponse:
		return validateResponse(arr)
	case message.MsgTypeNotification:
		return validateNotification(arr)
	}
	return nil, parseError(fmt.Sprintf("invalid message type %d", kind), v)
}

func validateRequest(arr []any) (*message.Request, error) {
	if len(arr) != RequestArity {
		return nil, parseError("request message must have four elements", arr)
	}
	id, err := validateMsgID(arr[1], arr)
	if err != nil {
		return nil, err
	}
	method, err := validateMethod(arr[2], arr)
	if err != nil {
		return nil, err
	}
	params, err := validateParams(arr[3], arr)
	if err != nil {
		return nil, err
	}
	return &message.Request{MsgID: id, Method: method, Params: params}, nil
}

func validateResponse(arr []any) (*message.Response, error) {
	if len(arr) != ResponseArity {
		return nil, parseError("response message must have four elements", arr)
	}
	id, err := validateMsgID(arr[1], arr)
	if err != nil {
		return nil, err
	}
	return &message.Response{MsgID: id, Error: arr[2], Result: arr[3]}, nil
}

func validateNotification(arr []any) (*message.Notification, error) {
	if len(arr) != NotificationArity {
		return nil, parseError("notification message must have three elements", arr)
	}
	method, err := validateMethod(arr[1], arr)
	if err != nil {
		return nil, err
	}
	params, err := validateParams(arr[2], arr)
	if err != nil {
		return nil, err
	}
	return &message.Notification{Method: method, Params: params}, nil
}

func validateMsgID(v any, whole []any) (message.MsgID, error) {
	n, ok := toInt64(v)
	if !ok {
		return 0, parseError("message ID must be an integer", whole)
	}
	if !message.IsValidMsgID(n) {
		return 0, parseError(fmt.Sprintf("invalid message ID value %d", n), whole)
	}
	return message.MsgID(n), nil
}

func validateMethod(v any, whole []any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", parseError("method name must be a string", whole)
	}
	return s, nil
}

func validateParams(v any, whole []any) ([]any, error) {
	p, ok := v.([]any)
	if !ok {
		return nil, parseError("parameters must be an array", whole)
	}
	return p, nil
}

// RecoverRequestID extracts the message ID of something that looks like a
// request, even if the rest of it is malformed.
func RecoverRequestID(v any) (message.MsgID, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return 0, false
	}
	kind, ok := toInt64(arr[0])
	if !ok || message.MsgType(kind) != message.MsgTypeRequest {
		return 0, false
	}
	id, ok := toInt64(arr[1])
	if !ok || !message.IsValidMsgID(id) {
		return 0, false
	}
	return message.MsgID(id), true
}

func parseError(reason string, v any) error {
	raw, err := msgp.AppendIntf(nil, v)
	if err != nil {
		raw = nil
	}
	return rpcerror.WithData(rpcerror.ParseError, fmt.Sprintf("%s: %s", reason, FormatValue(v)), raw)
}

// toInt64 accepts every Go integer kind the MessagePack runtime may produce.
// Unsigned values above math.MaxInt64 clamp so that range checks reject them.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n), true
	}
	return 0, false
}

func clampUint(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
