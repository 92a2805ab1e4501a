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
	"time"

	"github.com/gammazero/workerpool"

	"github.com/dsoprea/RestPipe/stats"
	"github.com/dsoprea/RestPipe/wire"
)

// defaultLoopWorkers bounds concurrent event handlers per connection.
const defaultLoopWorkers = 8

type loopConfig struct {
	// readTimeout is the poll cadence of the loop. Each expiry is just
	// a wakeup to re-check the context, not an error.
	readTimeout time.Duration

	// exitOnUnknown drops the connection on an unrecognized message
	// type. Servers set it: silently dropping a request would leave the
	// peer blocked on a reply, so the connection is sacrificed and the
	// client reconnects cleanly.
	exitOnUnknown bool

	workers int
}

// runLoop drives one connection until it fails or the context ends.
// Heartbeats are answered inline and recorded on the connection; events
// run on a bounded worker pool which sends each reply itself.
func runLoop(ctx context.Context, conn *Conn, mux *Mux, cfg loopConfig) error {
	workers := cfg.workers
	if workers <= 0 {
		workers = defaultLoopWorkers
	}
	wp := workerpool.New(workers)
	defer wp.StopWait()

	for {
		fr, err := conn.ex.Recv(ctx, cfg.readTimeout)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}

		switch msg := fr.Msg.(type) {
		case *wire.Heartbeat:
			conn.touchHeartbeat()
			if err := conn.ex.Reply(&wire.HeartbeatReply{Version: wire.Version}, fr.Header.ID); err != nil {
				return err
			}

		case *wire.Event:
			stats.Inc(stats.MessageReceiveTick)
			id := fr.Header.ID
			wp.Submit(func() {
				start := time.Now()
				reply := mux.Dispatch(ctx, msg)
				if err := conn.ex.Reply(reply, id); err != nil {
					conn.log.Debug("Event reply not sent", "id", wire.IDString(id), "err", err)
					return
				}
				stats.TimingSince(stats.MessageReceiveHandleTiming, start)
			})

		default:
			conn.log.Warn("Unknown message type received",
				"type", fr.Header.Type, "id", wire.IDString(fr.Header.ID))
			if cfg.exitOnUnknown {
				return fmt.Errorf("%w: %s", errUnknownMessage, fr.Header.Type)
			}
		}
	}
}
