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

package pipe

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is the terminal error of a connection. Every exchange
	// operation fails with it once the connection is torn down, and all
	// pending reply waiters are woken with it.
	ErrClosed = errors.New("connection closed")

	// ErrTimeout is returned when a reply or inbound frame does not
	// arrive in time. The connection remains usable unless the caller
	// is the heartbeat.
	ErrTimeout = errors.New("timed out")

	// ErrDuplicateConnection is returned by the catalog when a peer IP
	// is already registered. The newer connection is the one refused.
	ErrDuplicateConnection = errors.New("duplicate connection")

	// ErrNotRegistered is returned when deregistering a connection the
	// catalog does not hold. Double-deregistration is a caller bug.
	ErrNotRegistered = errors.New("connection not registered")

	// ErrNoConnection is returned when no live connection exists for a
	// peer IP within the allowed wait.
	ErrNoConnection = errors.New("no connection")

	// errUnknownMessage ends a server-side message loop when the peer
	// sends a type this release does not know.
	errUnknownMessage = errors.New("unknown message type")
)

// HandleError lets an event handler choose the reply code its failure
// travels back under. Any other handler error or panic is reported with
// the configured unhandled-exception code instead.
type HandleError struct {
	Code int32
	Err  error
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("handle error (code %d): %v", e.Code, e.Err)
}

func (e *HandleError) Unwrap() error { return e.Err }
