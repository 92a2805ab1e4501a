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

// Package demo ships the "test" handler provider both daemons default
// to. It answers GET /time with the current time and GET /cat//a/b/...
// with its arguments concatenated, which is enough to exercise a pipe
// end to end.
package demo

import (
	"context"
	"strings"
	"time"

	"github.com/dsoprea/RestPipe/pipe"
)

func init() {
	pipe.RegisterHandlerProvider("test", Provider{})
}

// Provider registers the demo handlers.
type Provider struct{}

// RegisterHandlers implements pipe.HandlerProvider.
func (Provider) RegisterHandlers(mux *pipe.Mux) {
	mux.Handle("GET", "time", getTime)
	mux.Handle("GET", "cat", getCat)
}

func getTime(ctx context.Context, req *pipe.Request, args ...string) (interface{}, error) {
	return map[string]interface{}{
		"t": float64(time.Now().UnixNano()) / float64(time.Second),
	}, nil
}

func getCat(ctx context.Context, req *pipe.Request, args ...string) (interface{}, error) {
	return map[string]interface{}{
		"r": strings.Join(args, ""),
	}, nil
}
