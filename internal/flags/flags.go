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

// Package flags holds the CLI surface shared by both daemons.
package flags

import (
	"fmt"
	"io"
	"os"

	log "github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// ConfigFileFlag names a TOML file overriding environment and
	// defaults.
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		Aliases: []string{"c"},
	}

	// VerbosityFlag sets the log level: 0=crit through 4=debug.
	VerbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug",
		Value: 3,
	}

	// LogFileFlag redirects logging into a rotated file.
	LogFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "write logs to a rotated file instead of stderr",
	}
)

// Common returns the flags every daemon carries.
func Common() []cli.Flag {
	return []cli.Flag{ConfigFileFlag, VerbosityFlag, LogFileFlag}
}

// SetupLogging configures the root log15 handler from the CLI context:
// colored terminal output on TTYs, logfmt otherwise, or a rotating
// file when requested.
func SetupLogging(ctx *cli.Context) error {
	var (
		output io.Writer = os.Stderr
		format           = log.LogfmtFormat()
	)
	if file := ctx.String(LogFileFlag.Name); file != "" {
		output = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // MiB
			MaxBackups: 10,
		}
	} else if isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb" {
		output = colorable.NewColorableStderr()
		format = log.TerminalFormat()
	}

	verbosity := ctx.Int(VerbosityFlag.Name)
	if verbosity < int(log.LvlCrit) || verbosity > int(log.LvlDebug) {
		return fmt.Errorf("invalid verbosity %d", verbosity)
	}

	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(verbosity), log.StreamHandler(output, format)))
	return nil
}
