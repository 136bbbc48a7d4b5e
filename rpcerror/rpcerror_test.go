package rpcerror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-faster/errors"
)

func TestZeroValueIsNoError(t *testing.T) {
	var info ErrorInfo
	if info.HasError() {
		t.Fatal("zero ErrorInfo must not be an error")
	}
	if info.Err() != nil {
		t.Fatal("zero ErrorInfo must convert to a nil error")
	}
	if info.String() != "no error" {
		t.Fatalf("unexpected string %q", info.String())
	}
	if Info(nil).HasError() {
		t.Fatal("Info(nil) must be None")
	}
}

func TestString(t *testing.T) {
	info := NewInfo(ParseError, "bad message")
	if got := info.String(); got != "error 100 bad message" {
		t.Errorf("got %q", got)
	}
	info = NewInfoWithData(ParseError, "bad message", []byte{0xc1})
	if got := info.String(); got != "error 100 bad message with data: c1" {
		t.Errorf("got %q", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []ErrorInfo{
		{},
		NewInfo(Timeout, "timeout in synchronous request for add"),
		NewInfoWithData(ParseError, "invalid message type 7", []byte{0x93, 0x07, 0x01, 0x02}),
		NewInfoWithData(UnexpectedError, "quote \" and\nnewline", []byte("x")),
	}
	for _, want := range cases {
		data, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %v: %v", want, err)
		}
		var got ErrorInfo
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got.Code != want.Code || got.Message != want.Message || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if (got.Data == nil) != (want.Data == nil) {
			t.Errorf("data presence changed: got %v, want %v", got.Data, want.Data)
		}
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var info ErrorInfo
	if err := info.UnmarshalJSON([]byte(`{"code":"x"}`)); err == nil {
		t.Fatal("expected an error for a string code")
	}
	if err := info.UnmarshalJSON([]byte(`[1,2]`)); err == nil {
		t.Fatal("expected an error for an array")
	}
}

func TestErrorConversion(t *testing.T) {
	err := Newf(Timeout, "timeout in synchronous request for %s", "add")
	wrapped := fmt.Errorf("call: %w", err)

	if !IsTimeout(wrapped) {
		t.Fatal("IsTimeout should see through wrapping")
	}
	if IsTransportFailure(wrapped) {
		t.Fatal("timeout is not a transport failure")
	}
	if !errors.Is(wrapped, New(Timeout, "")) {
		t.Fatal("errors.Is should match by code")
	}
	if errors.Is(wrapped, New(ParseError, "")) {
		t.Fatal("errors.Is must not match a different code")
	}
	if CodeOf(errors.New("plain")) != UnexpectedError {
		t.Fatal("foreign errors map to UnexpectedError")
	}
}

func TestTransportCodes(t *testing.T) {
	for _, c := range []Code{EOF, FailedToListen, FailedToAccept, FailedToResolve, FailedToConnect, FailedToRead, FailedToWrite} {
		if !c.IsTransport() {
			t.Errorf("%v should be a transport code", c)
		}
		if !IsTransportFailure(New(c, "x")) {
			t.Errorf("IsTransportFailure(%v) = false", c)
		}
	}
	for _, c := range []Code{Success, UnexpectedError, ParseError, MethodNotFound, Timeout} {
		if c.IsTransport() {
			t.Errorf("%v should not be a transport code", c)
		}
	}
}
