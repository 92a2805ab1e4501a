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
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/stats"
	"github.com/dsoprea/RestPipe/wire"
)

// State describes where a connection is in its life. Transitions are
// monotonic: opening, then active, then closed.
type State uint8

const (
	StateOpening State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// Conn is one live pipe connection: the exchange plus the bookkeeping
// the loop, watchdog and catalog need.
type Conn struct {
	ex           *Exchange
	log          log.Logger
	ip           string
	eventTimeout time.Duration

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
}

func newConn(ex *Exchange, eventTimeout time.Duration, logger log.Logger) *Conn {
	ip := ""
	if addr := ex.RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			ip = host
		} else {
			ip = addr.String()
		}
	}
	return &Conn{
		ex:           ex,
		log:          logger,
		ip:           ip,
		eventTimeout: eventTimeout,
	}
}

// IP returns the peer's address without the port. It is the catalog key
// on the server side.
func (c *Conn) IP() string {
	return c.ip
}

// RemoteAddr returns the peer's full address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ex.RemoteAddr()
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setActive() {
	c.mu.Lock()
	if c.state == StateOpening {
		c.state = StateActive
	}
	c.mu.Unlock()
}

// close tears down the exchange and pins the state. It may be called
// any number of times with any reason; the first close wins.
func (c *Conn) close(err error) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.ex.Close(err)
}

func (c *Conn) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Conn) lastHeartbeatAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// SendEvent carries one event to the peer and waits for the correlated
// reply. The wait is bounded by the connection's event timeout; a
// reply of the wrong type poisons the connection.
func (c *Conn) SendEvent(ctx context.Context, ev *wire.Event) (*wire.EventReply, error) {
	stats.Inc(stats.MessageSendTick)
	start := time.Now()

	fr, err := c.ex.SendAndAwait(ctx, ev, c.eventTimeout)
	if err != nil {
		return nil, err
	}
	reply, ok := fr.Msg.(*wire.EventReply)
	if !ok {
		err := fmt.Errorf("%w: reply to event %s is %s", wire.ErrMalformed,
			wire.IDString(fr.Header.ID), fr.Header.Type)
		c.close(err)
		return nil, err
	}
	stats.TimingSince(stats.MessageSendTiming, start)
	return reply, nil
}
