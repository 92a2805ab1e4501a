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

// rpclient keeps one authenticated pipe open to the server and serves
// a local HTTP ingress that forwards requests over it.
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
	Name:   "rpclient",
	Usage:  "RestPipe client daemon",
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
	logger := log.New("daemon", "rpclient")

	cfg, err := config.LoadClient(cliCtx.String(flags.ConfigFileFlag.Name))
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

	events, err := pipe.ClientStateEventsByName(cfg.StateEvents, logger)
	if err != nil {
		return err
	}

	client := pipe.NewClient(pipe.ClientConfig{
		Target:            cfg.Target(),
		TLS:               tlsCfg,
		HeartbeatInterval: cfg.HeartbeatInterval.Duration(),
		HeartbeatTimeout:  cfg.HeartbeatTimeout.Duration(),
		ReattemptFloor:    cfg.ReattemptFloor.Duration(),
		ReadTimeout:       cfg.LoopReadTimeout.Duration(),
		EventTimeout:      cfg.EventTimeout.Duration(),
		Events:            events,
		Mux:               mux,
		Logger:            logger,
	})

	ingress := rest.NewHTTPServer(cfg.HTTPBind,
		rest.NewClientHandler(client, logger), nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx) })
	g.Go(func() error { return ingress.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("Shut down")
		return nil
	}
	return err
}
