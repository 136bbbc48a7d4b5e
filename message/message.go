// Package message defines the three MessagePack-RPC message shapes.
//
// Every message travels as a MessagePack array whose first element is the
// message type:
//
//	request:      [0, msgid, method, params]
//	response:     [1, msgid, error, result]
//	notification: [2, method, params]
//
// The values here are plain data. Encoding and validation live in the codec
// package.
package message

import (
	"fmt"
	"math"
)

// MsgType is the discriminant in position 0 of every message.
type MsgType int

const (
	MsgTypeRequest      MsgType = 0
	MsgTypeResponse     MsgType = 1
	MsgTypeNotification MsgType = 2
)

// Valid reports whether t is one of the three wire-stable message types.
func (t MsgType) Valid() bool {
	return t == MsgTypeRequest || t == MsgTypeResponse || t == MsgTypeNotification
}

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeNotification:
		return "notification"
	}
	return fmt.Sprintf("msgtype(%d)", int(t))
}

// MsgID correlates a Request with its Response.
type MsgID uint32

// MaxMsgID is the largest legal message ID.
const MaxMsgID = math.MaxUint32

// IsValidMsgID reports whether v fits the message ID range [0, 2^32-1].
func IsValidMsgID(v int64) bool {
	return v >= 0 && v <= MaxMsgID
}

// Message is implemented by *Request, *Response and *Notification.
type Message interface {
	Type() MsgType
}

// Request asks the server to run Method with Params and reply with MsgID.
type Request struct {
	MsgID  MsgID
	Method string
	Params []any
}

func (*Request) Type() MsgType { return MsgTypeRequest }

// Response carries the outcome of a Request.
//
//   - Error is non-nil if the method failed; Result is then nil.
//   - Both nil means success with a nil result.
type Response struct {
	MsgID  MsgID
	Error  any
	Result any
}

func (*Response) Type() MsgType { return MsgTypeResponse }

// HasError reports whether the server reported a failure.
func (r *Response) HasError() bool { return r.Error != nil }

// Notification runs Method with Params. It has no MsgID and is never answered.
type Notification struct {
	Method string
	Params []any
}

func (*Notification) Type() MsgType { return MsgTypeNotification }

// MethodOf returns the method name of a request or notification.
func MethodOf(m Message) (string, bool) {
	switch msg := m.(type) {
	case *Request:
		return msg.Method, true
	case *Notification:
		return msg.Method, true
	}
	return "", false
}
