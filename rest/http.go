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

package rest

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/rs/cors"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpIdleTimeout       = 120 * time.Second
	shutdownGrace         = 5 * time.Second
)

// HTTPServer runs one ingress handler behind the CORS and gzip stack.
type HTTPServer struct {
	log  log.Logger
	addr string
	srv  *http.Server
}

// NewHTTPServer wraps handler for serving on addr. corsOrigins enables
// CORS when non-empty.
func NewHTTPServer(addr string, handler http.Handler, corsOrigins []string, logger log.Logger) *HTTPServer {
	// Write timeouts are left to the pipe's own event timeout: an
	// ingress request legitimately blocks for a full round-trip.
	return &HTTPServer{
		log:  logger,
		addr: addr,
		srv: &http.Server{
			Handler:           newHandlerStack(handler, corsOrigins),
			ReadHeaderTimeout: httpReadHeaderTimeout,
			IdleTimeout:       httpIdleTimeout,
		},
	}
}

// Run serves until the context ends, then drains in-flight requests.
func (h *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	h.log.Info("HTTP ingress listening", "addr", ln.Addr())

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		h.srv.Shutdown(shCtx)
	}()

	err = h.srv.Serve(ln)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// newHandlerStack wraps the ingress with CORS and gzip.
func newHandlerStack(srv http.Handler, corsOrigins []string) http.Handler {
	handler := newCorsHandler(srv, corsOrigins)
	return newGzipHandler(handler)
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"*"},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(srv)
}

var gzPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func newGzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")

		gz := gzPool.Get().(*gzip.Writer)
		defer gzPool.Put(gz)

		gz.Reset(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}
