// Package protocol implements the frame format used by the TCP transport.
//
// A MessagePack-RPC message is one MessagePack array. The stream is split into
// frames so the reader never has to parse MessagePack to find message
// boundaries: a fixed 9-byte header followed by the body.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │ft│ bodyLen │    body ...    │
//	│ mpr  │01│  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x70 // 'p'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 9 // 3 (magic) + 1 (version) + 1 (frameType) + 4 (bodyLen)

	// DefaultMaxBodyLen bounds the allocation made for one frame body.
	DefaultMaxBodyLen uint32 = 64 << 20
)

// FrameType distinguishes message frames from heartbeats.
type FrameType byte

const (
	FrameTypeMessage   FrameType = 0 // body is one MessagePack-RPC message
	FrameTypeHeartbeat FrameType = 1 // keep-alive probe, no body
)

// Header is the fixed frame header.
type Header struct {
	FrameType FrameType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing a writer must serialize calls, otherwise frames interleave.
func Encode(w io.Writer, frameType FrameType, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(frameType)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One write per frame keeps a failed write from leaving half a header on the wire.
	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r. Bodies larger than maxBodyLen are rejected
// before any allocation; zero means DefaultMaxBodyLen.
func Decode(r io.Reader, maxBodyLen uint32) (*Header, []byte, error) {
	if maxBodyLen == 0 {
		maxBodyLen = DefaultMaxBodyLen
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	frameType := FrameType(headerBuf[4])
	if frameType != FrameTypeMessage && frameType != FrameTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", headerBuf[4])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[5:9])
	if bodyLen > maxBodyLen {
		return nil, nil, fmt.Errorf("frame body of %d bytes exceeds limit %d", bodyLen, maxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{FrameType: frameType, BodyLen: bodyLen}, body, nil
}
