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
	"time"

	"github.com/dsoprea/RestPipe/stats"
	"github.com/dsoprea/RestPipe/wire"
)

// runHeartbeats is the client half of the liveness protocol. Each beat
// is scheduled one interval after the previous successful reply; any
// timeout or exchange fault tears the whole connection down and leaves
// reconnecting to the controller.
func runHeartbeats(ctx context.Context, conn *Conn, interval, timeout time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-conn.ex.closed:
			return
		}

		start := time.Now()
		_, err := conn.ex.SendAndAwait(ctx, &wire.Heartbeat{Version: wire.Version}, timeout)
		if err != nil {
			stats.Inc(stats.ClientConnectHeartbeatFailTick)
			conn.log.Warn("Heartbeat failed", "err", err)
			conn.close(fmt.Errorf("heartbeat: %w", err))
			return
		}
		stats.Inc(stats.ClientConnectHeartbeatSuccessTick)
		stats.TimingSince(stats.ClientConnectHeartbeatTiming, start)
		conn.log.Debug("Heartbeat acknowledged", "elapsed", time.Since(start))

		timer.Reset(interval)
	}
}

// runWatchdog is the server half. It wakes at twice the heartbeat
// interval and force-closes the connection when no beat has landed
// within that window. A connection that never beats at all is closed on
// the first wakeup.
func runWatchdog(ctx context.Context, conn *Conn, interval time.Duration) {
	threshold := 2 * interval
	ticker := time.NewTicker(threshold)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			last := conn.lastHeartbeatAt()
			if last.IsZero() || time.Since(last) > threshold {
				conn.log.Warn("Heartbeat miss; dropping connection", "last", last, "threshold", threshold)
				conn.close(fmt.Errorf("%w: heartbeat miss", ErrClosed))
				return
			}
		case <-ctx.Done():
			return
		case <-conn.ex.closed:
			return
		}
	}
}
