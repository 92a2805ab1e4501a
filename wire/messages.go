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

package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version is carried by every payload and is fixed in this release.
const Version = 1

// Message is one decodable payload kind.
type Message interface {
	// Type returns the wire type the payload travels under.
	Type() Type
	// MarshalPayload renders the payload in its wire encoding.
	MarshalPayload() []byte
	// UnmarshalPayload replaces the receiver's fields from wire bytes.
	UnmarshalPayload(b []byte) error
}

// New returns a zero-valued message for a known wire type.
func New(t Type) (Message, bool) {
	switch t {
	case TypeHeartbeat:
		return new(Heartbeat), true
	case TypeHeartbeatReply:
		return new(HeartbeatReply), true
	case TypeEvent:
		return new(Event), true
	case TypeEventReply:
		return new(EventReply), true
	}
	return nil, false
}

// Heartbeat is the liveness probe originated by clients.
type Heartbeat struct {
	Version uint32
}

// HeartbeatReply answers a Heartbeat under the same correlation ID.
type HeartbeatReply struct {
	Version uint32
}

// Event carries one HTTP-shaped request across the pipe.
type Event struct {
	Version  uint32
	Verb     string // uppercase HTTP-like method
	Noun     string // path, possibly with a trailing //-separated argument vector
	Mimetype string
	Data     []byte
}

// EventReply carries the outcome of one Event. Code zero means success;
// any other value is handler-defined.
type EventReply struct {
	Version  uint32
	Code     int32
	Mimetype string
	Data     []byte
}

// Payload field numbers. These are the protobuf schemas of the original
// protocol, declared in field order.
const (
	fieldVersion  = 1
	fieldVerb     = 2
	fieldNoun     = 3
	fieldMimetype = 4
	fieldData     = 5

	fieldReplyCode     = 2
	fieldReplyMimetype = 3
	fieldReplyData     = 4
)

func (m *Heartbeat) Type() Type { return TypeHeartbeat }

func (m *Heartbeat) MarshalPayload() []byte {
	return appendVersion(nil, m.Version)
}

func (m *Heartbeat) UnmarshalPayload(b []byte) error {
	v, err := consumeVersionOnly(b)
	if err != nil {
		return err
	}
	m.Version = v
	return nil
}

func (m *HeartbeatReply) Type() Type { return TypeHeartbeatReply }

func (m *HeartbeatReply) MarshalPayload() []byte {
	return appendVersion(nil, m.Version)
}

func (m *HeartbeatReply) UnmarshalPayload(b []byte) error {
	v, err := consumeVersionOnly(b)
	if err != nil {
		return err
	}
	m.Version = v
	return nil
}

func (m *Event) Type() Type { return TypeEvent }

func (m *Event) MarshalPayload() []byte {
	b := appendVersion(nil, m.Version)
	b = protowire.AppendTag(b, fieldVerb, protowire.BytesType)
	b = protowire.AppendString(b, m.Verb)
	b = protowire.AppendTag(b, fieldNoun, protowire.BytesType)
	b = protowire.AppendString(b, m.Noun)
	b = protowire.AppendTag(b, fieldMimetype, protowire.BytesType)
	b = protowire.AppendString(b, m.Mimetype)
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b
}

func (m *Event) UnmarshalPayload(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Version, b = uint32(v), b[n:]
		case num == fieldVerb && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Verb, b = string(v), b[n:]
		case num == fieldNoun && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Noun, b = string(v), b[n:]
		case num == fieldMimetype && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Mimetype, b = string(v), b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Data, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *EventReply) Type() Type { return TypeEventReply }

func (m *EventReply) MarshalPayload() []byte {
	b := appendVersion(nil, m.Version)
	b = protowire.AppendTag(b, fieldReplyCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.Code)))
	b = protowire.AppendTag(b, fieldReplyMimetype, protowire.BytesType)
	b = protowire.AppendString(b, m.Mimetype)
	b = protowire.AppendTag(b, fieldReplyData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b
}

func (m *EventReply) UnmarshalPayload(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Version, b = uint32(v), b[n:]
		case num == fieldReplyCode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Code, b = int32(v), b[n:]
		case num == fieldReplyMimetype && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Mimetype, b = string(v), b[n:]
		case num == fieldReplyData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			m.Data, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func appendVersion(b []byte, v uint32) []byte {
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// consumeVersionOnly decodes the heartbeat schemas, whose sole field is
// the version.
func consumeVersionOnly(b []byte) (uint32, error) {
	var version uint32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, malformed(protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldVersion && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, malformed(protowire.ParseError(n))
			}
			version, b = uint32(v), b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, malformed(protowire.ParseError(n))
		}
		b = b[n:]
	}
	return version, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
