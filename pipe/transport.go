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
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dsoprea/RestPipe/wire"
)

// frameWriteTimeout caps how long one frame may sit in a blocked write
// before the connection is considered dead.
const frameWriteTimeout = 20 * time.Second

// transport frames messages over an established connection. The read
// and write sides each assume a single caller; the exchange enforces
// that with its reader and writer goroutines.
type transport struct {
	conn net.Conn
	hbuf [wire.HeaderLength]byte
	wbuf []byte
}

func newTransport(conn net.Conn) *transport {
	return &transport{conn: conn}
}

// readFrame blocks for the next frame. Any socket or TLS fault,
// including EOF at any offset, is reported as ErrClosed; only schema
// violations surface as wire.ErrMalformed.
func (t *transport) readFrame() (*wire.Frame, error) {
	if _, err := io.ReadFull(t.conn, t.hbuf[:]); err != nil {
		return nil, closedErr(err)
	}
	h, err := wire.DecodeHeader(t.hbuf[:])
	if err != nil {
		return nil, err
	}
	var payload []byte
	if h.Length > 0 {
		payload = make([]byte, h.Length)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			return nil, closedErr(err)
		}
	}
	return wire.DecodeFrame(h, payload)
}

// writeFrame sends one message. net.Conn writes are flushed by the
// kernel; the TLS layer writes whole records.
func (t *transport) writeFrame(msg wire.Message, id uint32, reply bool) error {
	t.wbuf = wire.AppendFrame(t.wbuf[:0], msg, id, reply)
	if err := t.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout)); err != nil {
		return closedErr(err)
	}
	if _, err := t.conn.Write(t.wbuf); err != nil {
		return closedErr(err)
	}
	return nil
}

func (t *transport) close() error {
	return t.conn.Close()
}

func (t *transport) remoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// closedErr normalizes an I/O fault to the terminal close error.
func closedErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
