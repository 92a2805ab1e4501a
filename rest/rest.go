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

// Package rest adapts HTTP to the pipe and back. The client-side
// ingress forwards any request over the single pipe connection; the
// server-side ingress addresses a connected peer by hostname or IP.
// Replies travel back verbatim, with the handler's code in the
// X-Event-Return-Code response header.
package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/pipe"
	"github.com/dsoprea/RestPipe/wire"
)

// ReturnCodeHeader carries the event reply's code to the HTTP caller.
// Zero means the remote handler succeeded.
const ReturnCodeHeader = "X-Event-Return-Code"

// maxRequestBody bounds ingress request bodies; oversized events would
// be refused by the wire codec anyway.
const maxRequestBody = wire.MaxPayloadLength

// EventSender carries one event to a peer and waits for the correlated
// reply. Both the client controller and a cataloged server connection
// satisfy it.
type EventSender interface {
	SendEvent(ctx context.Context, ev *wire.Event) (*wire.EventReply, error)
}

// readEvent translates an HTTP request into an event aimed at noun.
func readEvent(r *http.Request, noun string) (*wire.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	return &wire.Event{
		Version:  wire.Version,
		Verb:     r.Method,
		Noun:     noun,
		Mimetype: r.Header.Get("Content-Type"),
		Data:     body,
	}, nil
}

// writeEventReply renders a reply. The handler's code travels in the
// header, not the HTTP status: a reachable handler that failed is still
// a successful pipe round-trip.
func writeEventReply(w http.ResponseWriter, reply *wire.EventReply) {
	if reply.Mimetype != "" {
		w.Header().Set("Content-Type", reply.Mimetype)
	}
	w.Header().Set(ReturnCodeHeader, strconv.Itoa(int(reply.Code)))
	w.WriteHeader(http.StatusOK)
	w.Write(reply.Data)
}

// writeEventError maps pipe failures onto HTTP statuses.
func writeEventError(w http.ResponseWriter, logger log.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipe.ErrNoConnection):
		status = http.StatusServiceUnavailable
	case errors.Is(err, pipe.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, pipe.ErrClosed):
		status = http.StatusBadGateway
	case errors.Is(err, ErrUnknownHost):
		status = http.StatusNotFound
	}
	logger.Debug("Event round-trip failed", "status", status, "err", err)
	http.Error(w, err.Error(), status)
}
