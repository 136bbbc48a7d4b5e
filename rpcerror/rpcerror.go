// Package rpcerror defines the error taxonomy shared by the codec, the client
// and the server.
//
// ErrorInfo is the carrier crossing component boundaries (transport callbacks,
// dispatch completion). Its zero value means "no error". Error wraps an
// ErrorInfo so it can travel through ordinary Go error returns.
package rpcerror

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code classifies an error. Values are grouped by hundreds per area.
type Code uint32

const (
	Success           Code = 0
	UnexpectedError   Code = 1
	UnexpectedNullptr Code = 2

	ParseError     Code = 100
	InvalidMessage Code = 101
	EncodingError  Code = 102

	EOF             Code = 200
	FailedToListen  Code = 201
	FailedToAccept  Code = 202
	FailedToResolve Code = 203
	FailedToConnect Code = 204
	FailedToRead    Code = 205
	FailedToWrite   Code = 206

	MethodNotFound Code = 300

	InvalidFutureUse Code = 400

	InvalidConfigValue Code = 500
	ConfigParseError   Code = 501

	Timeout Code = 600
)

var codeNames = map[Code]string{
	Success:            "success",
	UnexpectedError:    "unexpected error",
	UnexpectedNullptr:  "unexpected nullptr",
	ParseError:         "parse error",
	InvalidMessage:     "invalid message",
	EncodingError:      "encoding error",
	EOF:                "eof",
	FailedToListen:     "failed to listen",
	FailedToAccept:     "failed to accept",
	FailedToResolve:    "failed to resolve",
	FailedToConnect:    "failed to connect",
	FailedToRead:       "failed to read",
	FailedToWrite:      "failed to write",
	MethodNotFound:     "method not found",
	InvalidFutureUse:   "invalid future use",
	InvalidConfigValue: "invalid config value",
	ConfigParseError:   "config parse error",
	Timeout:            "timeout",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// IsTransport reports whether c belongs to the network group.
func (c Code) IsTransport() bool {
	return c >= EOF && c < MethodNotFound
}

// ErrorInfo is the error carrier of the protocol layer.
type ErrorInfo struct {
	Code    Code
	Message string
	Data    []byte // optional raw payload related to the error
}

// None is the "no error" value.
var None = ErrorInfo{}

// NewInfo builds an ErrorInfo without data.
func NewInfo(code Code, message string) ErrorInfo {
	return ErrorInfo{Code: code, Message: message}
}

// NewInfoWithData builds an ErrorInfo carrying raw data.
func NewInfoWithData(code Code, message string, data []byte) ErrorInfo {
	return ErrorInfo{Code: code, Message: message, Data: data}
}

// HasError reports whether e describes an error. A zero code is "no error".
func (e ErrorInfo) HasError() bool { return e.Code != Success }

// HasData reports whether raw data is attached.
func (e ErrorInfo) HasData() bool { return e.HasError() && len(e.Data) > 0 }

// Err converts e to an error, nil when e carries no error.
func (e ErrorInfo) Err() error {
	if !e.HasError() {
		return nil
	}
	return &Error{Info: e}
}

func (e ErrorInfo) String() string {
	if !e.HasError() {
		return "no error"
	}
	if !e.HasData() {
		return fmt.Sprintf("error %d %s", uint32(e.Code), e.Message)
	}
	return fmt.Sprintf("error %d %s with data: %x", uint32(e.Code), e.Message, e.Data)
}

// Error is an ErrorInfo travelling as a Go error.
type Error struct {
	Info ErrorInfo
}

// New returns an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Info: NewInfo(code, message)}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithData returns an *Error carrying raw data.
func WithData(code Code, message string, data []byte) *Error {
	return &Error{Info: NewInfoWithData(code, message, data)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Info.Code, e.Info.Message)
}

// Is matches another *Error by code, so errors.Is(err, rpcerror.New(rpcerror.Timeout, ""))
// works regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Info.Code == e.Info.Code
}

// Info extracts the ErrorInfo from err. Errors outside the taxonomy map to
// UnexpectedError; nil maps to None.
func Info(err error) ErrorInfo {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Info
	}
	return NewInfo(UnexpectedError, err.Error())
}

// CodeOf returns the taxonomy code of err.
func CodeOf(err error) Code {
	return Info(err).Code
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool { return err != nil && CodeOf(err) == ParseError }

// IsInvalidMessage reports whether err is an InvalidMessage error.
func IsInvalidMessage(err error) bool { return err != nil && CodeOf(err) == InvalidMessage }

// IsTimeout reports whether err is a Timeout.
func IsTimeout(err error) bool { return err != nil && CodeOf(err) == Timeout }

// IsTransportFailure reports whether err came from the transport collaborator.
func IsTransportFailure(err error) bool { return err != nil && CodeOf(err).IsTransport() }
