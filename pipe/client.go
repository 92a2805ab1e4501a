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
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/stats"
	"github.com/dsoprea/RestPipe/wire"
)

// ClientConfig parameterizes the reconnect controller.
type ClientConfig struct {
	// Target is the server's host:port.
	Target string

	// TLS is the mutual-auth client configuration. Ignored when Dial is
	// set.
	TLS *tls.Config

	// Dial overrides the connection factory. Tests use it to serve the
	// controller from in-process listeners.
	Dial func(ctx context.Context) (net.Conn, error)

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// ReattemptFloor is the minimum spacing between connection
	// attempts. An attempt that fails quickly sleeps the remainder.
	ReattemptFloor time.Duration

	// ReadTimeout is the message loop's poll cadence.
	ReadTimeout time.Duration

	// EventTimeout bounds SendEvent round-trips.
	EventTimeout time.Duration

	// Workers bounds concurrent inbound event handlers.
	Workers int

	Events ClientStateEvents
	Mux    *Mux
	Logger log.Logger
}

// Client is the pipe's originating side. It keeps one connection to the
// server alive for as long as it runs: open, serve, detect failure,
// wait out the reattempt floor, retry. It never gives up on its own.
type Client struct {
	cfg ClientConfig
	log log.Logger

	connVal atomicConn
}

// NewClient creates a controller. Run starts it.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = log.New("pipe", "client")
	}
	if cfg.Events == nil {
		cfg.Events = NoopClientStateEvents{}
	}
	return &Client{cfg: cfg, log: cfg.Logger}
}

// Run drives the reconnect cycle until the context is cancelled. Every
// failure is a retry condition; the only exit is cancellation. retries
// counts failures since the last success: it resets to zero once a
// connection is established, and the first failure of each streak
// re-stamps lastDisconnected.
func (c *Client) Run(ctx context.Context) error {
	var (
		retries          int
		lastDisconnected time.Time
	)
	for {
		attemptStart := time.Now()
		stats.Inc(stats.ClientConnectNewTick)

		connected, err := c.connectAndServe(ctx, retries, lastDisconnected, attemptStart)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			retries = 0
		}
		c.log.Warn("Connection lost; will retry", "target", c.cfg.Target, "err", err, "retries", retries)
		c.cfg.Events.ConnectFail(retries, lastDisconnected)

		if wait := c.cfg.ReattemptFloor - time.Since(attemptStart); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		retries++
		if retries == 1 {
			lastDisconnected = time.Now()
		}
	}
}

// connectAndServe runs one connection cycle. connected reports whether
// the dial succeeded, so the controller can tell a failed attempt from
// a connection that served and then broke.
func (c *Client) connectAndServe(ctx context.Context, retries int, lastDisconnected time.Time, attemptStart time.Time) (bool, error) {
	nc, err := c.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("connection fail: %w", err)
	}
	stats.Inc(stats.ClientConnectConnectedTick)
	stats.TimingSince(stats.ClientConnectNewAttemptTiming, attemptStart)

	logger := c.log.New("remote", nc.RemoteAddr())
	ex := startExchange(nc, logger)
	conn := newConn(ex, c.cfg.EventTimeout, logger)
	conn.setActive()
	c.connVal.set(conn)
	defer c.connVal.set(nil)

	logger.Info("Pipe connected", "target", c.cfg.Target)
	c.cfg.Events.ConnectSuccess(retries, lastDisconnected)

	hbCtx, cancelHb := context.WithCancel(ctx)
	defer cancelHb()
	go runHeartbeats(hbCtx, conn, c.cfg.HeartbeatInterval, c.cfg.HeartbeatTimeout)

	err = runLoop(ctx, conn, c.cfg.Mux, loopConfig{
		readTimeout:   c.cfg.ReadTimeout,
		exitOnUnknown: false,
		workers:       c.cfg.Workers,
	})
	conn.close(err)
	stats.Inc(stats.ClientConnectBrokenTick)
	return true, err
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.Dial != nil {
		return c.cfg.Dial(ctx)
	}
	d := tls.Dialer{Config: c.cfg.TLS}
	return d.DialContext(ctx, "tcp", c.cfg.Target)
}

// SendEvent submits an event on the current connection and waits for
// the reply. Without a live connection it fails fast with
// ErrNoConnection; there is no store-and-forward.
func (c *Client) SendEvent(ctx context.Context, ev *wire.Event) (*wire.EventReply, error) {
	conn := c.connVal.get()
	if conn == nil || conn.State() != StateActive {
		return nil, fmt.Errorf("%w: pipe is down", ErrNoConnection)
	}
	return conn.SendEvent(ctx, ev)
}

// atomicConn guards the controller's current connection for the HTTP
// ingress workers.
type atomicConn struct {
	mu   sync.Mutex
	conn *Conn
}

func (a *atomicConn) set(conn *Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *atomicConn) get() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}
