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

// Package pipe implements the long-lived connection plane: the framed
// exchange with reply correlation, the per-connection message loop and
// heartbeat watchdog, the server's connection catalog, the client's
// reconnect controller, and the event dispatcher.
package pipe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	log "github.com/inconshreveable/log15"
)

// handshakeTimeout bounds the TLS handshake of an accepted connection.
const handshakeTimeout = 10 * time.Second

// ServerConfig parameterizes the pipe's accepting side.
type ServerConfig struct {
	// Bind is the listener's host:port.
	Bind string

	// TLS is the mutual-auth server configuration requiring a verified
	// client certificate.
	TLS *tls.Config

	HeartbeatInterval time.Duration

	// ReadTimeout is the message loop's poll cadence.
	ReadTimeout time.Duration

	// EventTimeout bounds outbound SendEvent round-trips.
	EventTimeout time.Duration

	// Workers bounds concurrent inbound event handlers per connection.
	Workers int

	Events ServerStateEvents
	Mux    *Mux

	// Hooks, when set, observes per-connection lifecycles.
	Hooks  ConnectionHooks
	Logger log.Logger
}

// Server accepts pipe connections and serves each until it dies. Every
// live connection is registered in the catalog under its peer IP so the
// HTTP ingress can address it.
type Server struct {
	cfg     ServerConfig
	log     log.Logger
	catalog *Catalog
}

// NewServer creates a server and its catalog.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New("pipe", "server")
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		catalog: NewCatalog(cfg.Events, cfg.Logger),
	}
}

// Catalog exposes the connection directory for the HTTP ingress.
func (s *Server) Catalog() *Catalog {
	return s.catalog
}

// Run listens on the configured bind address and accepts until the
// context ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", s.cfg.Bind, s.cfg.TLS)
	if err != nil {
		return err
	}
	s.log.Info("Pipe listening", "bind", s.cfg.Bind)
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts connections from an established listener. It
// owns the listener and closes it on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer s.catalog.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.serveConn(ctx, nc)
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	logger := s.log.New("remote", nc.RemoteAddr())

	// The handshake is forced up front so an unauthenticated peer never
	// reaches the catalog.
	if tc, ok := nc.(*tls.Conn); ok {
		hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		err := tc.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			logger.Warn("TLS handshake failed", "err", err)
			nc.Close()
			return
		}
	}

	ex := startExchange(nc, logger)
	conn := newConn(ex, s.cfg.EventTimeout, logger)
	conn.setActive()

	if err := s.catalog.Register(conn); err != nil {
		// Register already closed the duplicate.
		return
	}
	logger.Info("Peer registered", "ip", conn.IP())

	if s.cfg.Hooks != nil {
		s.cfg.Hooks.ConnectionStarted(conn.RemoteAddr())
	}

	wdCtx, cancelWd := context.WithCancel(ctx)
	go runWatchdog(wdCtx, conn, s.cfg.HeartbeatInterval)

	err := runLoop(ctx, conn, s.cfg.Mux, loopConfig{
		readTimeout:   s.cfg.ReadTimeout,
		exitOnUnknown: true,
		workers:       s.cfg.Workers,
	})
	cancelWd()
	conn.close(err)

	if s.cfg.Hooks != nil {
		s.cfg.Hooks.ConnectionStopped(conn.RemoteAddr())
	}
	if derr := s.catalog.Deregister(conn); derr != nil {
		logger.Error("Deregistration failed", "err", derr)
	}
	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		logger.Warn("Connection ended", "err", err)
	} else {
		logger.Info("Peer disconnected", "ip", conn.IP())
	}
}
