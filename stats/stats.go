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

// Package stats posts pipe activity to StatsD. Posting is fire-and-
// forget over UDP; without a configured sink every call is a silent
// no-op, so instrumented code never checks first.
package stats

import (
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

// Counter and timer names, shared by both ends of the pipe.
const (
	ClientConnectNewTick              = "client.connect.new.tick"
	ClientConnectNewAttemptTiming     = "client.connect.new.attempt.timing"
	ClientConnectConnectedTick        = "client.connect.connected.tick"
	ClientConnectBrokenTick           = "client.connect.broken.tick"
	ClientConnectHeartbeatTiming      = "client.connect.heartbeat.timing"
	ClientConnectHeartbeatSuccessTick = "client.connect.heartbeat.success.tick"
	ClientConnectHeartbeatFailTick    = "client.connect.heartbeat.fail.tick"

	MessageSendTick   = "message.send.tick"
	MessageSendTiming = "message.send.timing"

	MessageReceiveTick         = "message.receive.tick"
	MessageReceiveHandleTiming = "message.receive.handle.timing"
)

// HandlerTick names the per-handler hit counter.
func HandlerTick(handler string) string {
	return "message.received.handle." + handler + ".tick"
}

// HandlerTiming names the per-handler duration series.
func HandlerTiming(handler string) string {
	return "message.received.handle." + handler + ".timing"
}

var client statsd.Statter

// Setup points the package at a StatsD sink. It must run before the
// pipe starts serving; there is deliberately no locking around the
// sink afterwards.
func Setup(addr, prefix string) error {
	c, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: addr,
		Prefix:  prefix,
	})
	if err != nil {
		return err
	}
	client = c
	return nil
}

// Close flushes and drops the sink.
func Close() {
	if client == nil {
		return
	}
	client.Close()
	client = nil
}

// Inc bumps a counter by one. Transport errors are dropped, matching
// StatsD's best-effort contract.
func Inc(name string) {
	if client == nil {
		return
	}
	client.Inc(name, 1, 1.0)
}

// TimingSince posts the time elapsed since start.
func TimingSince(name string, start time.Time) {
	if client == nil {
		return
	}
	client.TimingDuration(name, time.Since(start), 1.0)
}
