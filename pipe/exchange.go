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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/wire"
)

const (
	// outboxSize bounds the frames queued for transmission. Senders
	// block once the writer falls this far behind.
	outboxSize = 64

	// inboxSize buffers non-reply arrivals ahead of the message loop.
	inboxSize = 16
)

// Exchange multiplexes one connection. It owns three goroutines: a
// reader pulling frames off the wire, a dispatcher routing each frame
// to its pending waiter or to the inbound queue, and a writer draining
// the outbound queue. Once closed it is terminal: every operation fails
// with ErrClosed and all reply waiters are woken with it.
type Exchange struct {
	tr  *transport
	log log.Logger

	rawIn  chan *wire.Frame
	inbox  chan *wire.Frame
	outbox chan outFrame

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[uint32]chan *wire.Frame
	err     error
}

type outFrame struct {
	msg   wire.Message
	id    uint32
	reply bool
}

// startExchange wraps an established connection and launches the
// exchange goroutines.
func startExchange(conn net.Conn, logger log.Logger) *Exchange {
	ex := &Exchange{
		tr:      newTransport(conn),
		log:     logger,
		rawIn:   make(chan *wire.Frame),
		inbox:   make(chan *wire.Frame, inboxSize),
		outbox:  make(chan outFrame, outboxSize),
		closed:  make(chan struct{}),
		pending: make(map[uint32]chan *wire.Frame),
	}
	ex.wg.Add(3)
	go ex.readLoop()
	go ex.dispatchLoop()
	go ex.writeLoop()
	return ex
}

// RemoteAddr returns the peer's address for logging and catalog keying.
func (ex *Exchange) RemoteAddr() net.Addr {
	return ex.tr.remoteAddr()
}

// Send enqueues msg under a freshly minted correlation ID and returns
// the ID. With expectReply set, the pending slot is allocated before
// the frame can reach the wire, so a fast reply cannot race the waiter.
func (ex *Exchange) Send(msg wire.Message, expectReply bool) (uint32, error) {
	ex.mu.Lock()
	if ex.err != nil {
		err := ex.err
		ex.mu.Unlock()
		return 0, err
	}
	var id uint32
	for {
		id = wire.NewID()
		if _, taken := ex.pending[id]; !taken {
			break
		}
	}
	if expectReply {
		ex.pending[id] = make(chan *wire.Frame, 1)
	}
	ex.mu.Unlock()

	if err := ex.enqueue(outFrame{msg: msg, id: id}); err != nil {
		if expectReply {
			ex.removePending(id)
		}
		return 0, err
	}
	return id, nil
}

// Reply enqueues msg as the reply to an earlier correlation ID. The
// frame carries the original ID with the reply flag set.
func (ex *Exchange) Reply(msg wire.Message, replyTo uint32) error {
	return ex.enqueue(outFrame{msg: msg, id: replyTo, reply: true})
}

// Recv returns the next non-reply frame in arrival order. A positive
// timeout bounds the wait with ErrTimeout; zero blocks until a frame,
// context end, or close. Frames delivered before a close are drained
// ahead of the close error.
func (ex *Exchange) Recv(ctx context.Context, timeout time.Duration) (*wire.Frame, error) {
	select {
	case fr := <-ex.inbox:
		return fr, nil
	default:
	}

	var timeC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeC = timer.C
	}
	select {
	case fr := <-ex.inbox:
		return fr, nil
	case <-timeC:
		return nil, fmt.Errorf("%w: no message within %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ex.closed:
		return nil, ex.closeReason()
	}
}

// AwaitReply blocks until the reply to id arrives, the timeout elapses,
// or the connection closes. Exactly one of reply, ErrTimeout, or
// ErrClosed resolves every pending slot.
func (ex *Exchange) AwaitReply(ctx context.Context, id uint32, timeout time.Duration) (*wire.Frame, error) {
	ex.mu.Lock()
	ch, ok := ex.pending[id]
	ex.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: message %s has no pending slot", ErrClosed, wire.IDString(id))
	}

	var timeC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeC = timer.C
	}
	select {
	case fr, ok := <-ch:
		ex.removePending(id)
		if !ok {
			return nil, ex.closeReason()
		}
		return fr, nil
	case <-timeC:
		ex.removePending(id)
		return nil, fmt.Errorf("%w: no reply to %s within %v", ErrTimeout, wire.IDString(id), timeout)
	case <-ctx.Done():
		ex.removePending(id)
		return nil, ctx.Err()
	}
}

// SendAndAwait composes Send and AwaitReply.
func (ex *Exchange) SendAndAwait(ctx context.Context, msg wire.Message, timeout time.Duration) (*wire.Frame, error) {
	id, err := ex.Send(msg, true)
	if err != nil {
		return nil, err
	}
	return ex.AwaitReply(ctx, id, timeout)
}

// Close tears the connection down once. Reply waiters wake with
// ErrClosed, the loops exit, and queued outbound frames are discarded.
func (ex *Exchange) Close(err error) {
	ex.closeOnce.Do(func() {
		reason := ErrClosed
		switch {
		case err == nil:
		case errors.Is(err, ErrClosed):
			reason = err
		default:
			reason = fmt.Errorf("%w: %v", ErrClosed, err)
		}

		ex.mu.Lock()
		ex.err = reason
		for id, ch := range ex.pending {
			delete(ex.pending, id)
			close(ch)
		}
		ex.mu.Unlock()

		close(ex.closed)
		ex.tr.close()
		ex.log.Debug("Exchange closed", "reason", reason)
	})
}

// Closed reports whether the exchange has been torn down.
func (ex *Exchange) Closed() bool {
	select {
	case <-ex.closed:
		return true
	default:
		return false
	}
}

func (ex *Exchange) closeReason() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.err != nil {
		return ex.err
	}
	return ErrClosed
}

func (ex *Exchange) removePending(id uint32) {
	ex.mu.Lock()
	delete(ex.pending, id)
	ex.mu.Unlock()
}

func (ex *Exchange) enqueue(f outFrame) error {
	select {
	case ex.outbox <- f:
		return nil
	case <-ex.closed:
		return ex.closeReason()
	}
}

func (ex *Exchange) readLoop() {
	defer ex.wg.Done()
	for {
		fr, err := ex.tr.readFrame()
		if err != nil {
			ex.log.Debug("Frame read failed", "err", err)
			ex.Close(err)
			return
		}
		select {
		case ex.rawIn <- fr:
		case <-ex.closed:
			return
		}
	}
}

func (ex *Exchange) dispatchLoop() {
	defer ex.wg.Done()
	for {
		select {
		case fr := <-ex.rawIn:
			if fr.Header.IsReply() {
				ex.deliverReply(fr)
				continue
			}
			select {
			case ex.inbox <- fr:
			case <-ex.closed:
				return
			}
		case <-ex.closed:
			return
		}
	}
}

// deliverReply hands a reply frame to its pending slot. Slots are
// buffered, so delivery never blocks the dispatcher; the waiter removes
// the slot when it picks the reply up.
func (ex *Exchange) deliverReply(fr *wire.Frame) {
	id := fr.Header.ID
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ch, ok := ex.pending[id]
	if !ok {
		ex.log.Debug("Reply has no pending waiter", "id", wire.IDString(id), "type", fr.Header.Type)
		return
	}
	select {
	case ch <- fr:
	default:
		ex.log.Warn("Duplicate reply dropped", "id", wire.IDString(id))
	}
}

func (ex *Exchange) writeLoop() {
	defer ex.wg.Done()
	for {
		select {
		case f := <-ex.outbox:
			if err := ex.tr.writeFrame(f.msg, f.id, f.reply); err != nil {
				ex.log.Debug("Frame write failed", "err", err)
				ex.Close(err)
				return
			}
		case <-ex.closed:
			return
		}
	}
}
