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
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/inconshreveable/log15"
)

// NewClientHandler builds the client-side ingress: any method on any
// path becomes an event whose noun is the path, carried over the single
// pipe connection to the server.
func NewClientHandler(sender EventSender, logger log.Logger) http.Handler {
	h := &clientHandler{sender: sender, log: logger}
	router := mux.NewRouter()
	// The noun grammar uses "//" to separate positional arguments, so
	// the usual path cleaning must not run.
	router.SkipClean(true)
	router.PathPrefix("/").HandlerFunc(h.serve)
	return router
}

type clientHandler struct {
	sender EventSender
	log    log.Logger
}

func (h *clientHandler) serve(w http.ResponseWriter, r *http.Request) {
	noun := strings.TrimPrefix(r.URL.Path, "/")
	ev, err := readEvent(r, noun)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply, err := h.sender.SendEvent(r.Context(), ev)
	if err != nil {
		writeEventError(w, h.log, err)
		return
	}
	writeEventReply(w, reply)
}
