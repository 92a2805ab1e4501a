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

package pipe

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dsoprea/RestPipe/wire"
)

func TestTransportRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	tw, tr := newTransport(c1), newTransport(c2)

	ev := &wire.Event{Version: 1, Verb: "GET", Noun: "time", Mimetype: "application/json", Data: []byte("{}")}
	go func() {
		if err := tw.writeFrame(ev, 1234567890, false); err != nil {
			t.Errorf("write: %v", err)
		}
	}()

	fr, err := tr.readFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if fr.Header.ID != 1234567890 {
		t.Fatalf("ID = %d", fr.Header.ID)
	}
	got, ok := fr.Msg.(*wire.Event)
	if !ok || got.Noun != "time" {
		t.Fatalf("decoded %+v", fr.Msg)
	}
}

// EOF at any byte offset must read as a connection close, never as a
// protocol violation.
func TestTransportEOFIsClosed(t *testing.T) {
	t.Run("mid-header", func(t *testing.T) {
		c1, c2 := net.Pipe()
		defer c1.Close()
		go func() {
			c2.Write([]byte{0x02, 0x00, 0x00}) // 3 of 10 header bytes
			c2.Close()
		}()
		if _, err := newTransport(c1).readFrame(); !errors.Is(err, ErrClosed) {
			t.Fatalf("mid-header EOF: got %v, want ErrClosed", err)
		}
	})

	t.Run("mid-payload", func(t *testing.T) {
		c1, c2 := net.Pipe()
		defer c1.Close()
		go func() {
			h := wire.Header{Type: wire.TypeEvent, Length: 16, ID: 1000000000}
			buf := wire.AppendHeader(nil, &h)
			buf = append(buf, 1, 2, 3, 4) // 4 of 16 payload bytes
			c2.Write(buf)
			c2.Close()
		}()
		if _, err := newTransport(c1).readFrame(); !errors.Is(err, ErrClosed) {
			t.Fatalf("mid-payload EOF: got %v, want ErrClosed", err)
		}
	})

	t.Run("immediate", func(t *testing.T) {
		c1, c2 := net.Pipe()
		defer c1.Close()
		go c2.Close()
		if _, err := newTransport(c1).readFrame(); !errors.Is(err, ErrClosed) {
			t.Fatalf("immediate EOF: got %v, want ErrClosed", err)
		}
	})
}

// noDeadlineConn refuses write deadlines, like a conn type without
// timeout support.
type noDeadlineConn struct {
	net.Conn
}

func (noDeadlineConn) SetWriteDeadline(time.Time) error {
	return errors.New("deadline not supported")
}

// A connection that cannot take a write deadline must fail the write
// up front instead of silently losing the timeout guarantee.
func TestTransportWriteDeadlineRequired(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	tw := newTransport(noDeadlineConn{Conn: c1})
	err := tw.writeFrame(&wire.Heartbeat{Version: 1}, 1000000000, false)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestTransportOversizeIsMalformed(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	go func() {
		h := wire.Header{Type: wire.TypeEvent, Length: wire.MaxPayloadLength + 1, ID: 1000000000}
		c2.Write(wire.AppendHeader(nil, &h))
	}()
	if _, err := newTransport(c1).readFrame(); !errors.Is(err, wire.ErrMalformed) {
		t.Fatalf("oversize: got %v, want ErrMalformed", err)
	}
}
