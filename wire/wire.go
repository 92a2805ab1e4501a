// Copyright 2026 The RestPipe Authors
// This file is part of the RestPipe library.
//
// The RestPipe library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The RestPipe library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the RestPipe library. If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the frame codec spoken on a pipe connection.
//
// A frame is a fixed ten byte header followed by an opaque payload:
//
//	offset  size  field
//	0       1     message type
//	1       1     flags (bit 0 = reply)
//	2       4     payload length
//	6       4     correlation ID
//
// Multi-byte fields are big-endian. The payload schema is determined by
// the message type and uses protobuf wire encoding (see messages.go).
// Encoding and decoding are pure; the pipe package owns all I/O.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
)

// Message types. Reply kinds carry the high bit as a readability
// convention; the header flag is what authoritatively marks a reply.
const (
	TypeHeartbeat      Type = 0x01
	TypeEvent          Type = 0x02
	TypeHeartbeatReply Type = 0x80
	TypeEventReply     Type = 0x81
)

// Header flags.
const FlagIsReply = 0x01

const (
	// HeaderLength is the exact size of the frame prefix.
	HeaderLength = 10

	// MaxPayloadLength bounds the payload size a peer may declare.
	// Larger frames are a protocol violation and poison the connection.
	MaxPayloadLength = 10 * 1024 * 1024
)

// ErrMalformed marks a frame or payload that violates the protocol.
// Receiving one is connection-fatal.
var ErrMalformed = errors.New("malformed message")

// Type identifies a payload schema.
type Type byte

// IsReply reports whether the type follows the high-bit reply convention.
func (t Type) IsReply() bool { return t&0x80 != 0 }

func (t Type) String() string {
	switch t {
	case TypeHeartbeat:
		return "heartbeat"
	case TypeEvent:
		return "event"
	case TypeHeartbeatReply:
		return "heartbeat-reply"
	case TypeEventReply:
		return "event-reply"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// Header is the fixed-size frame prefix.
type Header struct {
	Type   Type
	Flags  byte
	Length uint32 // payload length in bytes
	ID     uint32 // correlation ID
}

// IsReply reports whether the frame carries a reply. The flag bit is
// authoritative; the type convention is accepted for peers that only
// set the high bit.
func (h *Header) IsReply() bool {
	return h.Flags&FlagIsReply != 0 || h.Type.IsReply()
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h *Header) []byte {
	var b [HeaderLength]byte
	b[0] = byte(h.Type)
	b[1] = h.Flags
	binary.BigEndian.PutUint32(b[2:6], h.Length)
	binary.BigEndian.PutUint32(b[6:10], h.ID)
	return append(dst, b[:]...)
}

// DecodeHeader parses an exactly HeaderLength-sized prefix.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLength {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrMalformed, len(b), HeaderLength)
	}
	h := Header{
		Type:   Type(b[0]),
		Flags:  b[1],
		Length: binary.BigEndian.Uint32(b[2:6]),
		ID:     binary.BigEndian.Uint32(b[6:10]),
	}
	if h.Length > MaxPayloadLength {
		return Header{}, fmt.Errorf("%w: declared payload of %d bytes exceeds limit", ErrMalformed, h.Length)
	}
	return h, nil
}

// Frame is one message off the wire: its header, the raw payload and,
// for known types, the decoded form.
type Frame struct {
	Header  Header
	Payload []byte
	Msg     Message
}

// DecodeFrame decodes a payload under its header. Unknown types are
// returned with a nil Msg so the message loop can decide their fate;
// known types whose payload violates the schema fail with ErrMalformed.
func DecodeFrame(h Header, payload []byte) (*Frame, error) {
	fr := &Frame{Header: h, Payload: payload}
	if msg, ok := New(h.Type); ok {
		if err := msg.UnmarshalPayload(payload); err != nil {
			return nil, err
		}
		fr.Msg = msg
	}
	return fr, nil
}

// AppendFrame renders a complete frame for msg under the given
// correlation ID. Replies set both the flag bit and, through the
// message's own type, the high-bit convention.
func AppendFrame(dst []byte, msg Message, id uint32, reply bool) []byte {
	payload := msg.MarshalPayload()
	h := Header{Type: msg.Type(), Length: uint32(len(payload)), ID: id}
	if reply {
		h.Flags |= FlagIsReply
	}
	dst = AppendHeader(dst, &h)
	return append(dst, payload...)
}

// Correlation IDs are minted uniformly from [idFloor, 2^32). Every value
// in the range prints as exactly ten decimal digits, which keeps log
// lines aligned and makes early collisions unlikely.
const (
	idFloor = 1_000_000_000
	idSpan  = (1 << 32) - idFloor
)

// NewID mints a correlation ID. Uniqueness among pending messages is the
// exchange's job; the mint only guarantees the range.
func NewID() uint32 {
	return uint32(idFloor + mrand.Int63n(idSpan))
}

// IDString renders a correlation ID as the fixed-width decimal used in
// logs on both ends of the pipe.
func IDString(id uint32) string {
	return fmt.Sprintf("%010d", id)
}
