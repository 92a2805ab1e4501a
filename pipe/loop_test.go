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
	"net"
	"testing"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/internal/testlog"
	"github.com/dsoprea/RestPipe/wire"
)

// loopUnderTest runs a message loop over one half of an exchange pair
// and returns the peer exchange plus the loop's result channel.
func loopUnderTest(t *testing.T, mux *Mux, exitOnUnknown bool) (*Conn, *Exchange, chan error) {
	t.Helper()
	exA, exB := exchangePair(t)
	conn := newConn(exA, 5*time.Second, testlog.Logger(t, log.LvlInfo))
	conn.setActive()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- runLoop(ctx, conn, mux, loopConfig{
			readTimeout:   20 * time.Millisecond,
			exitOnUnknown: exitOnUnknown,
		})
	}()
	return conn, exB, done
}

func TestLoopAnswersHeartbeat(t *testing.T) {
	conn, exB, _ := loopUnderTest(t, newTestMux(t), true)

	before := conn.lastHeartbeatAt()
	fr, err := exB.SendAndAwait(context.Background(), &wire.Heartbeat{Version: 1}, 5*time.Second)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if _, ok := fr.Msg.(*wire.HeartbeatReply); !ok {
		t.Fatalf("reply is %T", fr.Msg)
	}
	if !conn.lastHeartbeatAt().After(before) {
		t.Fatal("heartbeat not recorded")
	}
}

func TestLoopDispatchesEvents(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "echo", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return &Result{Mimetype: req.Mimetype, Payload: req.Data}, nil
	})
	_, exB, _ := loopUnderTest(t, mux, true)

	ev := &wire.Event{Version: 1, Verb: "GET", Noun: "echo", Mimetype: "text/plain", Data: []byte("ping")}
	fr, err := exB.SendAndAwait(context.Background(), ev, 5*time.Second)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	reply := fr.Msg.(*wire.EventReply)
	if reply.Code != 0 || string(reply.Data) != "ping" {
		t.Fatalf("reply = %+v", reply)
	}
}

// unknownMsg is a message type this release does not define.
type unknownMsg struct{}

func (unknownMsg) Type() wire.Type { return wire.Type(0x33) }

func (unknownMsg) MarshalPayload() []byte { return nil }

func (unknownMsg) UnmarshalPayload([]byte) error { return nil }

// A server loop drops the connection on an unknown type: silently
// eating the message would leave the peer blocked on a reply.
func TestLoopExitsOnUnknown(t *testing.T) {
	_, exB, done := loopUnderTest(t, newTestMux(t), true)

	if _, err := exB.Send(unknownMsg{}, false); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, errUnknownMessage) {
			t.Fatalf("loop returned %v, want errUnknownMessage", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on unknown message")
	}
}

func TestLoopToleratesUnknown(t *testing.T) {
	conn, exB, done := loopUnderTest(t, newTestMux(t), false)

	if _, err := exB.Send(unknownMsg{}, false); err != nil {
		t.Fatal(err)
	}
	// The loop keeps serving.
	if _, err := exB.SendAndAwait(context.Background(), &wire.Heartbeat{Version: 1}, 5*time.Second); err != nil {
		t.Fatalf("heartbeat after unknown: %v", err)
	}
	select {
	case err := <-done:
		t.Fatalf("client loop exited on unknown message: %v", err)
	default:
	}
	_ = conn
}

func TestLoopExitsOnClose(t *testing.T) {
	conn, _, done := loopUnderTest(t, newTestMux(t), true)

	conn.close(nil)
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("loop returned %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on close")
	}
}

// The client heartbeat keeps a served connection alive and tears it
// down once the peer stops answering.
func TestHeartbeatSenderAndWatchdog(t *testing.T) {
	c1, c2 := net.Pipe()
	logA := testlog.Logger(t, log.LvlInfo).New("side", "client")
	logB := testlog.Logger(t, log.LvlInfo).New("side", "server")

	clientConn := newConn(startExchange(c1, logA), time.Second, logA)
	serverConn := newConn(startExchange(c2, logB), time.Second, logB)
	clientConn.setActive()
	serverConn.setActive()
	t.Cleanup(func() {
		clientConn.close(nil)
		serverConn.close(nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const interval = 50 * time.Millisecond
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runLoop(ctx, serverConn, newTestMux(t), loopConfig{
			readTimeout:   20 * time.Millisecond,
			exitOnUnknown: true,
		})
	}()
	go runWatchdog(ctx, serverConn, interval)
	hbCtx, stopBeats := context.WithCancel(ctx)
	go runHeartbeats(hbCtx, clientConn, interval, time.Second)

	// Several heartbeat cycles pass without the watchdog firing.
	time.Sleep(6 * interval)
	if serverConn.State() == StateClosed {
		t.Fatal("watchdog fired despite heartbeats")
	}

	// Partition: the client stops beating while the socket stays up.
	// The watchdog must fire within two intervals (plus scheduling
	// slack).
	stopBeats()
	deadline := time.After(10 * interval)
	for serverConn.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatal("watchdog did not fire after heartbeats stopped")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// A watchdog over a connection that never heartbeats at all fires on
// its first wakeup.
func TestWatchdogNoInitialHeartbeat(t *testing.T) {
	exA, _ := exchangePair(t)
	conn := newConn(exA, time.Second, testlog.Logger(t, log.LvlInfo))
	conn.setActive()

	go runWatchdog(context.Background(), conn, 25*time.Millisecond)

	deadline := time.After(time.Second)
	for conn.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatal("watchdog did not fire")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
