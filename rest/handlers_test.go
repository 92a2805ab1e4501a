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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"

	"github.com/dsoprea/RestPipe/internal/testlog"
	"github.com/dsoprea/RestPipe/pipe"
	"github.com/dsoprea/RestPipe/wire"
)

type fakeSender struct {
	reply *wire.EventReply
	err   error
	got   *wire.Event
}

func (f *fakeSender) SendEvent(ctx context.Context, ev *wire.Event) (*wire.EventReply, error) {
	f.got = ev
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeResolver struct {
	hosts map[string]string
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, host string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	ip, ok := f.hosts[host]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}
	return ip, nil
}

func TestClientIngressForwards(t *testing.T) {
	sender := &fakeSender{
		reply: &wire.EventReply{
			Version:  wire.Version,
			Code:     0,
			Mimetype: "application/json",
			Data:     []byte(`{"t":1.5}`),
		},
	}
	handler := NewClientHandler(sender, testlog.Logger(t, log.LvlInfo))

	req := httptest.NewRequest("GET", "/time", strings.NewReader(`{"q":1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "0", w.Header().Get(ReturnCodeHeader))
	require.JSONEq(t, `{"t":1.5}`, w.Body.String())

	require.NotNil(t, sender.got)
	require.Equal(t, "GET", sender.got.Verb)
	require.Equal(t, "time", sender.got.Noun)
	require.Equal(t, "application/json", sender.got.Mimetype)
	require.JSONEq(t, `{"q":1}`, string(sender.got.Data))
}

// The noun, argument separators included, travels verbatim.
func TestClientIngressNounArguments(t *testing.T) {
	sender := &fakeSender{reply: &wire.EventReply{Version: wire.Version}}
	handler := NewClientHandler(sender, testlog.Logger(t, log.LvlInfo))

	req := httptest.NewRequest("POST", "/cat//a/b", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "cat//a/b", sender.got.Noun)
	require.Equal(t, "POST", sender.got.Verb)
}

// The handler's code reaches the caller in the header even on failure
// codes; HTTP status stays 200 because the pipe round-trip succeeded.
func TestClientIngressHandlerFailureCode(t *testing.T) {
	sender := &fakeSender{
		reply: &wire.EventReply{Version: wire.Version, Code: 254},
	}
	handler := NewClientHandler(sender, testlog.Logger(t, log.LvlInfo))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/unknown", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "254", w.Header().Get(ReturnCodeHeader))
	require.Empty(t, w.Body.Bytes())
}

func TestClientIngressFailureMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{pipe.ErrNoConnection, http.StatusServiceUnavailable},
		{pipe.ErrTimeout, http.StatusGatewayTimeout},
		{pipe.ErrClosed, http.StatusBadGateway},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		handler := NewClientHandler(&fakeSender{err: c.err}, testlog.Logger(t, log.LvlInfo))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/time", nil))
		require.Equalf(t, c.status, w.Code, "error %v", c.err)
	}
}

func serverIngress(t *testing.T, senders map[string]EventSender, resolver HostResolver) http.Handler {
	t.Helper()
	lookup := func(ctx context.Context, ip string) (EventSender, error) {
		s, ok := senders[ip]
		if !ok {
			return nil, fmt.Errorf("%w: %s", pipe.ErrNoConnection, ip)
		}
		return s, nil
	}
	return NewServerHandler(lookup, resolver, testlog.Logger(t, log.LvlInfo))
}

func TestServerIngressResolvesHost(t *testing.T) {
	sender := &fakeSender{
		reply: &wire.EventReply{Version: wire.Version, Mimetype: "application/json", Data: []byte(`{"r":"ab"}`)},
	}
	resolver := &fakeResolver{hosts: map[string]string{"srv1": "10.0.0.7"}}
	handler := serverIngress(t, map[string]EventSender{"10.0.0.7": sender}, resolver)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/srv1/cat//a/b", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get(ReturnCodeHeader))
	require.JSONEq(t, `{"r":"ab"}`, w.Body.String())
	require.Equal(t, "cat//a/b", sender.got.Noun)
	require.Equal(t, 1, resolver.calls)
}

// A dotted-quad client host skips the resolver entirely.
func TestServerIngressLiteralIP(t *testing.T) {
	sender := &fakeSender{reply: &wire.EventReply{Version: wire.Version}}
	resolver := &fakeResolver{}
	handler := serverIngress(t, map[string]EventSender{"10.0.0.7": sender}, resolver)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/10.0.0.7/time", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "time", sender.got.Noun)
	require.Zero(t, resolver.calls)
}

func TestServerIngressFailureMapping(t *testing.T) {
	sender := &fakeSender{reply: &wire.EventReply{Version: wire.Version}}
	resolver := &fakeResolver{hosts: map[string]string{"srv1": "10.0.0.7", "srv2": "10.0.0.8"}}
	handler := serverIngress(t, map[string]EventSender{"10.0.0.7": sender}, resolver)

	// Unknown hostname.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/nosuch/time", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	// Resolver infrastructure failure.
	broken := serverIngress(t, nil, &fakeResolver{err: errors.New("resolv.conf on fire")})
	w = httptest.NewRecorder()
	broken.ServeHTTP(w, httptest.NewRequest("GET", "/srv1/time", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// Resolvable but not connected.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/srv2/time", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
