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
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/internal/testlog"
	"github.com/dsoprea/RestPipe/wire"
)

const (
	testUnhandledEvent     = 254
	testUnhandledException = 255
)

func newTestMux(t *testing.T) *Mux {
	t.Helper()
	return NewMux(testUnhandledEvent, testUnhandledException, testlog.Logger(t, log.LvlInfo))
}

func TestSplitNoun(t *testing.T) {
	cases := []struct {
		noun string
		name string
		args []string
	}{
		{"time", "time", nil},
		{"cat//3/4", "cat", []string{"3", "4"}},
		{"cat//", "cat", nil},
		{"a/b/c", "a_b_c", nil},
		{"a/b//x/y", "a_b", []string{"x", "y"}},
		{"cat//one", "cat", []string{"one"}},
		{"", "", nil},
		{"cat//a//b", "cat", []string{"a", "", "b"}},
	}
	for _, c := range cases {
		name, args := splitNoun(c.noun)
		if name != c.name || !reflect.DeepEqual(args, c.args) {
			t.Errorf("splitNoun(%q) = %q, %v; want %q, %v", c.noun, name, args, c.name, c.args)
		}
	}
}

func TestDispatchJSONHandler(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "time", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return map[string]interface{}{"t": 1.5}, nil
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "time"})
	if reply.Code != 0 {
		t.Fatalf("code = %d", reply.Code)
	}
	if reply.Mimetype != MimetypeJSON {
		t.Fatalf("mimetype = %q", reply.Mimetype)
	}
	var body map[string]float64
	if err := json.Unmarshal(reply.Data, &body); err != nil {
		t.Fatal(err)
	}
	if body["t"] != 1.5 {
		t.Fatalf("body = %v", body)
	}
}

func TestDispatchPositionalArgs(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "cat", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return map[string]string{"r": strings.Join(args, "")}, nil
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "cat//a/b"})
	var body map[string]string
	if err := json.Unmarshal(reply.Data, &body); err != nil {
		t.Fatal(err)
	}
	if body["r"] != "ab" {
		t.Fatalf(`r = %q, want "ab"`, body["r"])
	}
}

func TestDispatchDecodesJSONBody(t *testing.T) {
	mux := newTestMux(t)
	var gotBody interface{}
	mux.Handle("POST", "box", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		gotBody = req.Body
		return nil, nil
	})

	ev := &wire.Event{
		Version: 1, Verb: "POST", Noun: "box",
		Mimetype: MimetypeJSON, Data: []byte(`{"k": 7}`),
	}
	if reply := mux.Dispatch(context.Background(), ev); reply.Code != 0 {
		t.Fatalf("code = %d, data = %s", reply.Code, reply.Data)
	}
	m, ok := gotBody.(map[string]interface{})
	if !ok || m["k"] != float64(7) {
		t.Fatalf("decoded body = %#v", gotBody)
	}
}

func TestDispatchOpaqueBodyPassedRaw(t *testing.T) {
	mux := newTestMux(t)
	var got *Request
	mux.Handle("PUT", "blob", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		got = req
		return nil, nil
	})

	ev := &wire.Event{Version: 1, Verb: "PUT", Noun: "blob", Mimetype: "application/octet-stream", Data: []byte{1, 2, 3}}
	mux.Dispatch(context.Background(), ev)
	if got.Body != nil {
		t.Fatalf("opaque body decoded: %#v", got.Body)
	}
	if !reflect.DeepEqual(got.Data, []byte{1, 2, 3}) {
		t.Fatalf("raw data = %v", got.Data)
	}
}

func TestDispatchUnhandledEvent(t *testing.T) {
	mux := newTestMux(t)
	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "POST", Noun: "unknown"})
	if reply.Code != testUnhandledEvent {
		t.Fatalf("code = %d, want %d", reply.Code, testUnhandledEvent)
	}
	if len(reply.Data) != 0 {
		t.Fatalf("unhandled reply carries a body: %q", reply.Data)
	}
}

// Verb matching ignores case: the wire carries uppercase verbs and the
// table registers either way.
func TestDispatchVerbCase(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("get", "time", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return nil, nil
	})
	if reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "time"}); reply.Code != 0 {
		t.Fatalf("code = %d", reply.Code)
	}
}

type divisionByZeroError struct{}

func (divisionByZeroError) Error() string { return "division by zero" }

func TestDispatchPanicEnvelope(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "crash", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		panic(divisionByZeroError{})
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "crash"})
	if reply.Code != testUnhandledException {
		t.Fatalf("code = %d, want %d", reply.Code, testUnhandledException)
	}

	var env exceptionEnvelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		t.Fatalf("envelope: %v (%s)", err, reply.Data)
	}
	if env.Exception.Class != "divisionByZeroError" {
		t.Fatalf("class = %q", env.Exception.Class)
	}
	if env.Exception.Message != "division by zero" {
		t.Fatalf("message = %q", env.Exception.Message)
	}
	if env.Exception.Traceback == "" {
		t.Fatal("empty traceback")
	}
}

func TestDispatchErrorEnvelope(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "fail", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return nil, errors.New("backend gone")
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "fail"})
	if reply.Code != testUnhandledException {
		t.Fatalf("code = %d, want %d", reply.Code, testUnhandledException)
	}
	var env exceptionEnvelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Exception.Message != "backend gone" {
		t.Fatalf("message = %q", env.Exception.Message)
	}
}

// A HandleError picks the reply code; the envelope still describes the
// underlying cause.
func TestDispatchHandleError(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "reject", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return nil, &HandleError{Code: 17, Err: errors.New("quota exhausted")}
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "reject"})
	if reply.Code != 17 {
		t.Fatalf("code = %d, want 17", reply.Code)
	}
	var env exceptionEnvelope
	if err := json.Unmarshal(reply.Data, &env); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(env.Exception.Message, "quota exhausted") {
		t.Fatalf("message = %q", env.Exception.Message)
	}
}

func TestDispatchExplicitResult(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "plain", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return &Result{Mimetype: "text/plain", Code: 3, Payload: "hello"}, nil
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "plain"})
	if reply.Code != 3 || reply.Mimetype != "text/plain" || string(reply.Data) != "hello" {
		t.Fatalf("reply = %+v", reply)
	}
}

// A structured payload under a non-JSON mimetype cannot be encoded.
func TestDispatchUnencodablePayload(t *testing.T) {
	mux := newTestMux(t)
	mux.Handle("GET", "bad", func(ctx context.Context, req *Request, args ...string) (interface{}, error) {
		return &Result{Mimetype: "text/plain", Payload: map[string]int{"x": 1}}, nil
	})

	reply := mux.Dispatch(context.Background(), &wire.Event{Version: 1, Verb: "GET", Noun: "bad"})
	if reply.Code != testUnhandledException {
		t.Fatalf("code = %d, want %d", reply.Code, testUnhandledException)
	}
}

func TestMuxHandlersEnumerable(t *testing.T) {
	mux := newTestMux(t)
	nop := func(ctx context.Context, req *Request, args ...string) (interface{}, error) { return nil, nil }
	mux.Handle("GET", "time", nop)
	mux.Handle("POST", "box", nop)

	want := []string{"get_time", "post_box"}
	if got := mux.Handlers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Handlers() = %v, want %v", got, want)
	}
}
