// Package transport carries whole MessagePack-RPC messages between peers.
//
// The RPC engines never touch sockets. They see only two callback shapes:
//
//	AsyncSend(data, onSent)       onSent(info) fires once the bytes are written or failed
//	Start(onReceived)             onReceived(info, data) fires for every inbound message
//
// A non-empty ErrorInfo passed to onReceived is terminal: the connection is
// closed and no further messages follow.
package transport

import "msgpack-rpc/rpcerror"

// SentHandler is told whether one AsyncSend reached the wire.
type SentHandler func(info rpcerror.ErrorInfo)

// ReceivedHandler receives one complete message, or the error that ended the connection.
type ReceivedHandler func(info rpcerror.ErrorInfo, data []byte)

// Sender queues bytes for asynchronous delivery. AsyncSend must not block on I/O.
type Sender interface {
	AsyncSend(data []byte, onSent SentHandler)
}

// Session is one peer connection as seen by method handlers.
type Session interface {
	Sender
	ID() string
	RemoteAddr() string
}

// Connector is a session the owner drives: it starts delivery and closes it.
type Connector interface {
	Session
	Start(onReceived ReceivedHandler)
	Close() error
	Done() <-chan struct{}
}

// Ignore is a SentHandler that drops the outcome.
func Ignore(rpcerror.ErrorInfo) {}

