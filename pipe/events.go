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
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
)

// ClientStateEvents receives the client controller's connection
// lifecycle notifications. Implementations must not block; they run on
// the controller's goroutine.
type ClientStateEvents interface {
	// ConnectSuccess fires once a connection is established. retries is
	// the number of failed attempts since the last success;
	// lastDisconnected is zero before the first disconnect.
	ConnectSuccess(retries int, lastDisconnected time.Time)

	// ConnectFail fires after a connection attempt fails or an
	// established connection breaks.
	ConnectFail(retries int, lastDisconnected time.Time)
}

// ServerStateEvents receives the catalog's population notifications.
type ServerStateEvents interface {
	// ConnectionAdded fires when a peer registers. count is the catalog
	// size including the new entry.
	ConnectionAdded(ip string, count int)

	// ConnectionRemoved fires when a peer deregisters.
	ConnectionRemoved(ip string, count int)

	// Idle fires every idle interval while the catalog is empty.
	Idle(since time.Time, idleFor time.Duration)
}

// NoopClientStateEvents discards every notification. It is the default
// sink.
type NoopClientStateEvents struct{}

func (NoopClientStateEvents) ConnectSuccess(int, time.Time) {}

func (NoopClientStateEvents) ConnectFail(int, time.Time) {}

// NoopServerStateEvents discards every notification.
type NoopServerStateEvents struct{}

func (NoopServerStateEvents) ConnectionAdded(string, int) {}

func (NoopServerStateEvents) ConnectionRemoved(string, int) {}

func (NoopServerStateEvents) Idle(time.Time, time.Duration) {}

// LogClientStateEvents writes every notification to a logger.
type LogClientStateEvents struct {
	Log log.Logger
}

func (e LogClientStateEvents) ConnectSuccess(retries int, lastDisconnected time.Time) {
	e.Log.Info("Pipe connected", "retries", retries, "lastdisconnected", lastDisconnected)
}

func (e LogClientStateEvents) ConnectFail(retries int, lastDisconnected time.Time) {
	e.Log.Warn("Pipe connection failed", "retries", retries, "lastdisconnected", lastDisconnected)
}

// LogServerStateEvents writes every notification to a logger.
type LogServerStateEvents struct {
	Log log.Logger
}

func (e LogServerStateEvents) ConnectionAdded(ip string, count int) {
	e.Log.Info("Peer connected", "ip", ip, "count", count)
}

func (e LogServerStateEvents) ConnectionRemoved(ip string, count int) {
	e.Log.Info("Peer disconnected", "ip", ip, "count", count)
}

func (e LogServerStateEvents) Idle(since time.Time, idleFor time.Duration) {
	e.Log.Info("No peers connected", "since", since, "idle", idleFor)
}

// State-event sinks are selected by name from these registries, so the
// configuration can reference them without the core knowing concrete
// types. "noop" and "log" are built in.
var (
	stateEventsMu   sync.Mutex
	clientEventsReg = map[string]func(log.Logger) ClientStateEvents{
		"noop": func(log.Logger) ClientStateEvents { return NoopClientStateEvents{} },
		"log":  func(l log.Logger) ClientStateEvents { return LogClientStateEvents{Log: l} },
	}
	serverEventsReg = map[string]func(log.Logger) ServerStateEvents{
		"noop": func(log.Logger) ServerStateEvents { return NoopServerStateEvents{} },
		"log":  func(l log.Logger) ServerStateEvents { return LogServerStateEvents{Log: l} },
	}
)

// RegisterClientStateEvents adds a named client sink constructor.
// Registering a taken name panics; registration happens at start-up.
func RegisterClientStateEvents(name string, mk func(log.Logger) ClientStateEvents) {
	stateEventsMu.Lock()
	defer stateEventsMu.Unlock()
	if _, ok := clientEventsReg[name]; ok {
		panic("pipe: duplicate client state-events registration: " + name)
	}
	clientEventsReg[name] = mk
}

// RegisterServerStateEvents adds a named server sink constructor.
func RegisterServerStateEvents(name string, mk func(log.Logger) ServerStateEvents) {
	stateEventsMu.Lock()
	defer stateEventsMu.Unlock()
	if _, ok := serverEventsReg[name]; ok {
		panic("pipe: duplicate server state-events registration: " + name)
	}
	serverEventsReg[name] = mk
}

// ClientStateEventsByName builds the named client sink.
func ClientStateEventsByName(name string, logger log.Logger) (ClientStateEvents, error) {
	stateEventsMu.Lock()
	mk, ok := clientEventsReg[name]
	stateEventsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown client state-events sink %q", name)
	}
	return mk(logger), nil
}

// ServerStateEventsByName builds the named server sink.
func ServerStateEventsByName(name string, logger log.Logger) (ServerStateEvents, error) {
	stateEventsMu.Lock()
	mk, ok := serverEventsReg[name]
	stateEventsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown server state-events sink %q", name)
	}
	return mk(logger), nil
}
