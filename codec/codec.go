// Package codec converts between MessagePack wire bytes and message values.
//
// Decoding is split in two steps so that corrupt bytes and well-formed bytes
// with an illegal shape stay distinguishable:
//
//	bytes ──Decode──► generic value ──Validate──► *message.Request | *message.Response | *message.Notification
//
// Both steps fail with a rpcerror.ParseError; Decode attaches the raw bytes and
// Validate attaches the re-encoded offending value.
package codec

import (
	"fmt"
	"reflect"

	"github.com/tinylib/msgp/msgp"

	"msgpack-rpc/message"
	"msgpack-rpc/rpcerror"
)

// Encode serializes a message, or any payload the MessagePack runtime
// supports, into wire bytes. Unsupported values fail with EncodingError.
func Encode(v any) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = rpcerror.Newf(rpcerror.EncodingError, "failed to encode %T: %v", v, r)
		}
	}()

	switch m := v.(type) {
	case *message.Request:
		return PackRequest(m.MsgID, m.Method, m.Params)
	case message.Request:
		return PackRequest(m.MsgID, m.Method, m.Params)
	case *message.Response:
		return PackResponse(m.MsgID, m.Error, m.Result)
	case message.Response:
		return PackResponse(m.MsgID, m.Error, m.Result)
	case *message.Notification:
		return PackNotification(m.Method, m.Params)
	case message.Notification:
		return PackNotification(m.Method, m.Params)
	}

	return appendValue(nil, v)
}

// Decode parses exactly one MessagePack value from data. No shape checks are
// made here.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, rpcerror.WithData(rpcerror.ParseError, "empty message data", data)
	}
	v, rest, err := msgp.ReadIntfBytes(data)
	if err != nil {
		return nil, rpcerror.WithData(rpcerror.ParseError,
			fmt.Sprintf("failed to parse message data: %v", err), data)
	}
	if len(rest) != 0 {
		return nil, rpcerror.WithData(rpcerror.ParseError,
			fmt.Sprintf("%d trailing bytes after message", len(rest)), data)
	}
	return v, nil
}

// Parse is Decode followed by Validate.
func Parse(data []byte) (message.Message, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Validate(v)
}

// MaxNesting bounds how deeply arrays, maps and pointers may nest in a value
// being encoded. Self-referencing values exceed it.
const MaxNesting = 256

func errTooDeep(t reflect.Type) error {
	return rpcerror.Newf(rpcerror.EncodingError, "value nested deeper than %d levels at %s", MaxNesting, t)
}

func encodingError(v any, err error) error {
	return rpcerror.Newf(rpcerror.EncodingError, "failed to encode %T: %v", v, err)
}
