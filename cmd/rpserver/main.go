// Copyright 2026 The RestPipe Authors
// This file is part of RestPipe.
//
// RestPipe is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// RestPipe is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with RestPipe. If not, see <http://www.gnu.org/licenses/>.

// rpserver accepts authenticated pipe connections from clients and
// serves an HTTP ingress that forwards requests to a connected client
// addressed by its hostname or IP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/inconshreveable/log15"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/dsoprea/RestPipe/config"
	_ "github.com/dsoprea/RestPipe/internal/demo"
	"github.com/dsoprea/RestPipe/internal/flags"
	"github.com/dsoprea/RestPipe/pipe"
	"github.com/dsoprea/RestPipe/rest"
	"github.com/dsoprea/RestPipe/stats"
)

var app = &cli.App{
	Name:   "rpserver",
	Usage:  "RestPipe server daemon",
	Flags:  flags.Common(),
	Action: run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	if err := flags.SetupLogging(cliCtx); err != nil {
		return err
	}
	logger := log.New("daemon", "rpserver")

	cfg, err := config.LoadServer(cliCtx.String(flags.ConfigFileFlag.Name))
	if err != nil {
		return err
	}

	if addr := cfg.Statsd.Addr(); addr != "" {
		if err := stats.Setup(addr, cfg.StatsdPrefix); err != nil {
			logger.Warn("StatsD sink unavailable; metrics disabled", "addr", addr, "err", err)
		} else {
			defer stats.Close()
		}
	}

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return fmt.Errorf("TLS material: %w", err)
	}

	mux := pipe.NewMux(cfg.UnhandledEvent, cfg.UnhandledException, logger)
	provider, err := pipe.HandlerProviderByName(cfg.HandlerProvider)
	if err != nil {
		return err
	}
	provider.RegisterHandlers(mux)
	logger.Info("Handlers registered", "provider", cfg.HandlerProvider, "handlers", mux.Handlers())

	events, err := pipe.ServerStateEventsByName(cfg.StateEvents, logger)
	if err != nil {
		return err
	}
	hooks, _ := provider.(pipe.ConnectionHooks)

	server := pipe.NewServer(pipe.ServerConfig{
		Bind:              cfg.Bind(),
		TLS:               tlsCfg,
		HeartbeatInterval: cfg.HeartbeatInterval.Duration(),
		ReadTimeout:       cfg.LoopReadTimeout.Duration(),
		EventTimeout:      cfg.EventTimeout.Duration(),
		Events:            events,
		Mux:               mux,
		Hooks:             hooks,
		Logger:            logger,
	})

	waitTimeout := cfg.ConnectionWaitTimeout.Duration()
	lookup := func(ctx context.Context, ip string) (rest.EventSender, error) {
		conn, err := server.Catalog().WaitFor(ctx, ip, waitTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	ingress := rest.NewHTTPServer(cfg.HTTPBind,
		rest.NewServerHandler(lookup, rest.NewDNSResolver(), logger), nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return ingress.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("Shut down")
		return nil
	}
	return err
}
