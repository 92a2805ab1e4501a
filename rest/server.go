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
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/inconshreveable/log15"
)

// PeerLookup obtains a sender for the addressed peer IP, waiting a
// bounded time for the peer to be connected. The server wires this to
// the connection catalog.
type PeerLookup func(ctx context.Context, ip string) (EventSender, error)

// NewServerHandler builds the server-side ingress. The first path
// segment addresses a client by hostname or dotted-quad IP; the rest is
// the noun forwarded to it.
func NewServerHandler(lookup PeerLookup, resolver HostResolver, logger log.Logger) http.Handler {
	h := &serverHandler{lookup: lookup, resolver: resolver, log: logger}
	router := mux.NewRouter()
	// The noun grammar uses "//" to separate positional arguments, so
	// the usual path cleaning must not run.
	router.SkipClean(true)
	router.HandleFunc("/{host}", h.serve)
	router.HandleFunc("/{host}/{noun:.*}", h.serve)
	return router
}

type serverHandler struct {
	lookup   PeerLookup
	resolver HostResolver
	log      log.Logger
}

func (h *serverHandler) serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	host := vars["host"]
	noun := vars["noun"]

	ip, err := h.resolve(r.Context(), host)
	if err != nil {
		if errors.Is(err, ErrUnknownHost) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	sender, err := h.lookup(r.Context(), ip)
	if err != nil {
		writeEventError(w, h.log, err)
		return
	}

	ev, err := readEvent(r, noun)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply, err := sender.SendEvent(r.Context(), ev)
	if err != nil {
		writeEventError(w, h.log, err)
		return
	}
	writeEventReply(w, reply)
}

// resolve passes literal addresses straight through and consults the
// resolver for everything else.
func (h *serverHandler) resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	return h.resolver.Resolve(ctx, host)
}
