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
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
)

const (
	// catalogPollInterval is the cadence of WaitFor's presence checks.
	catalogPollInterval = time.Second

	// idleInterval is how often an empty catalog announces itself.
	idleInterval = 60 * time.Second
)

// Catalog is the server's directory of live peer connections, keyed by
// peer IP. It holds at most one entry per IP; a duplicate registration
// refuses, and closes, the newer connection. The older entry stays
// until its own heartbeat watchdog evicts it, at which point the peer's
// reconnect loop converges.
type Catalog struct {
	log    log.Logger
	events ServerStateEvents

	mu         sync.Mutex
	conns      map[string]*Conn
	emptySince time.Time

	quit     chan struct{}
	quitOnce sync.Once
}

// NewCatalog creates an empty catalog and starts its idleness monitor.
// Close stops the monitor.
func NewCatalog(events ServerStateEvents, logger log.Logger) *Catalog {
	if events == nil {
		events = NoopServerStateEvents{}
	}
	ca := &Catalog{
		log:        logger,
		events:     events,
		conns:      make(map[string]*Conn),
		emptySince: time.Now(),
		quit:       make(chan struct{}),
	}
	go ca.idleMonitor()
	return ca
}

// Close stops the idleness monitor. Registered connections are not
// touched; their loops own their teardown.
func (ca *Catalog) Close() {
	ca.quitOnce.Do(func() { close(ca.quit) })
}

// Register adds a connection under its peer IP. When the IP is already
// present the new connection is closed and ErrDuplicateConnection is
// returned; the existing entry is kept.
func (ca *Catalog) Register(conn *Conn) error {
	ip := conn.IP()
	ca.mu.Lock()
	if _, ok := ca.conns[ip]; ok {
		ca.mu.Unlock()
		ca.log.Warn("Duplicate connection refused", "ip", ip)
		conn.close(ErrDuplicateConnection)
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, ip)
	}
	ca.conns[ip] = conn
	count := len(ca.conns)
	ca.mu.Unlock()

	ca.events.ConnectionAdded(ip, count)
	return nil
}

// Deregister removes a connection. Removing a connection that is not
// the registered entry for its IP is a caller bug and fails with
// ErrNotRegistered.
func (ca *Catalog) Deregister(conn *Conn) error {
	ip := conn.IP()
	ca.mu.Lock()
	cur, ok := ca.conns[ip]
	if !ok || cur != conn {
		ca.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, ip)
	}
	delete(ca.conns, ip)
	count := len(ca.conns)
	if count == 0 {
		ca.emptySince = time.Now()
	}
	ca.mu.Unlock()

	ca.events.ConnectionRemoved(ip, count)
	return nil
}

// Get returns the live connection for a peer IP, or ErrNoConnection.
func (ca *Catalog) Get(ip string) (*Conn, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	conn, ok := ca.conns[ip]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, ip)
	}
	return conn, nil
}

// Len returns the number of registered connections.
func (ca *Catalog) Len() int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return len(ca.conns)
}

// WaitFor polls for a connection from the given IP until it appears or
// the timeout elapses. Clients connect on their own schedule, so a
// short wait here bridges the window between an HTTP request and the
// peer's (re)registration.
func (ca *Catalog) WaitFor(ctx context.Context, ip string, timeout time.Duration) (*Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		if conn, err := ca.Get(ip); err == nil {
			return conn, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s not seen within %v", ErrNoConnection, ip, timeout)
		}
		wait := catalogPollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ca.quit:
			return nil, fmt.Errorf("%w: catalog closed", ErrNoConnection)
		}
	}
}

func (ca *Catalog) idleMonitor() {
	ticker := time.NewTicker(idleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ca.mu.Lock()
			empty := len(ca.conns) == 0
			since := ca.emptySince
			ca.mu.Unlock()
			if empty {
				ca.events.Idle(since, time.Since(since))
			}
		case <-ca.quit:
			return
		}
	}
}
