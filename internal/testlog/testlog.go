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

// Package testlog provides a log handler for unit tests.
package testlog

import (
	"sync"
	"testing"

	log "github.com/inconshreveable/log15"
)

// Logger returns a logger which records to the unit test log of t, so
// output stays grouped per test even when connections log from their
// own goroutines.
func Logger(t *testing.T, level log.Lvl) log.Logger {
	l := &logger{
		t:  t,
		l:  log.New(),
		mu: new(sync.Mutex),
		h:  &bufHandler{fmt: log.TerminalFormat()},
	}
	l.l.SetHandler(log.LvlFilterHandler(level, l.h))
	return l
}

type bufHandler struct {
	buf []*log.Record
	fmt log.Format
}

func (h *bufHandler) Log(r *log.Record) error {
	h.buf = append(h.buf, r)
	return nil
}

type logger struct {
	t  *testing.T
	l  log.Logger
	mu *sync.Mutex
	h  *bufHandler
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(l.l.Debug, msg, ctx) }

func (l *logger) Info(msg string, ctx ...interface{}) { l.write(l.l.Info, msg, ctx) }

func (l *logger) Warn(msg string, ctx ...interface{}) { l.write(l.l.Warn, msg, ctx) }

func (l *logger) Error(msg string, ctx ...interface{}) { l.write(l.l.Error, msg, ctx) }

func (l *logger) Crit(msg string, ctx ...interface{}) { l.write(l.l.Crit, msg, ctx) }

func (l *logger) New(ctx ...interface{}) log.Logger {
	return &logger{l.t, l.l.New(ctx...), l.mu, l.h}
}

func (l *logger) GetHandler() log.Handler {
	return l.l.GetHandler()
}

func (l *logger) SetHandler(h log.Handler) {
	l.l.SetHandler(h)
}

func (l *logger) write(out func(string, ...interface{}), msg string, ctx []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out(msg, ctx...)
	l.flush()
}

func (l *logger) flush() {
	for _, r := range l.h.buf {
		l.t.Logf("%s", l.h.fmt.Format(r))
	}
	l.h.buf = nil
}
