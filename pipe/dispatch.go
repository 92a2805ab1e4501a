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
	"fmt"
	"net"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/dsoprea/RestPipe/stats"
	"github.com/dsoprea/RestPipe/wire"
)

// MimetypeJSON is the mimetype whose bodies are decoded and encoded
// automatically. It is also the default reply mimetype.
const MimetypeJSON = "application/json"

// Request is the handler-facing view of one inbound event.
type Request struct {
	// Mimetype is the event's declared content type.
	Mimetype string

	// Data is the raw payload.
	Data []byte

	// Body is the decoded JSON value when Mimetype is application/json
	// and Data is non-empty; nil otherwise.
	Body interface{}
}

// Handler services one (verb, name) pair. args is the noun's positional
// argument vector. The returned value may be nil, a []byte or string
// sent verbatim, a *Result for explicit control of code and mimetype,
// or any JSON-encodable value.
//
// Returning a *HandleError sets the reply code to the handler's chosen
// value; any other error, and any panic, is reported to the peer under
// the unhandled-exception code with a JSON exception envelope.
type Handler func(ctx context.Context, req *Request, args ...string) (interface{}, error)

// Result is a handler return carrying an explicit mimetype and code.
type Result struct {
	Mimetype string
	Code     int32
	Payload  interface{}
}

// HandlerProvider populates a Mux. Configuration selects a provider by
// registered name, so the handler surface is explicit and enumerable.
type HandlerProvider interface {
	RegisterHandlers(mux *Mux)
}

// ConnectionHooks is optionally implemented by server-side handler
// providers that want to observe per-connection lifecycles.
type ConnectionHooks interface {
	ConnectionStarted(remote net.Addr)
	ConnectionStopped(remote net.Addr)
}

type muxKey struct {
	verb string // lowercase
	name string
}

// Mux routes inbound events to handlers. The table is keyed on the
// lowercased verb and the noun's name part; registration happens at
// start-up and lookup is read-mostly.
type Mux struct {
	log                log.Logger
	unhandledEvent     int32
	unhandledException int32

	mu    sync.RWMutex
	table map[muxKey]Handler
}

// NewMux creates an empty routing table with the two reserved reply
// codes.
func NewMux(unhandledEventCode, unhandledExceptionCode int32, logger log.Logger) *Mux {
	return &Mux{
		log:                logger,
		unhandledEvent:     unhandledEventCode,
		unhandledException: unhandledExceptionCode,
		table:              make(map[muxKey]Handler),
	}
}

// Handle registers a handler for a verb and noun name. Verb case is
// irrelevant; the wire carries uppercase verbs and the table is
// lowercase. Re-registration panics: the table is start-up state.
func (m *Mux) Handle(verb, name string, h Handler) {
	key := muxKey{verb: strings.ToLower(verb), name: name}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.table[key]; ok {
		panic(fmt.Sprintf("pipe: duplicate handler %s_%s", key.verb, key.name))
	}
	m.table[key] = h
}

// Handlers enumerates the registered handler keys as "verb_name"
// strings, sorted.
func (m *Mux) Handlers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.table))
	for key := range m.table {
		names = append(names, key.verb+"_"+key.name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves and runs the handler for one event and returns the
// encoded reply. It never fails: every failure mode is expressed as a
// reply code so the originator is always unblocked.
func (m *Mux) Dispatch(ctx context.Context, ev *wire.Event) *wire.EventReply {
	name, args := splitNoun(ev.Noun)
	key := muxKey{verb: strings.ToLower(ev.Verb), name: name}

	m.mu.RLock()
	handler, ok := m.table[key]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("No handler for event", "verb", ev.Verb, "noun", ev.Noun)
		return &wire.EventReply{Version: wire.Version, Code: m.unhandledEvent}
	}

	handlerName := key.verb + "_" + key.name
	stats.Inc(stats.HandlerTick(handlerName))
	start := time.Now()

	reply := m.invoke(ctx, handler, handlerName, ev, args)

	stats.TimingSince(stats.HandlerTiming(handlerName), start)
	return reply
}

func (m *Mux) invoke(ctx context.Context, handler Handler, name string, ev *wire.Event, args []string) (reply *wire.EventReply) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Event handler crashed", "handler", name, "err", r)
			reply = m.exceptionReply(m.unhandledException, r, debug.Stack())
		}
	}()

	req := &Request{Mimetype: ev.Mimetype, Data: ev.Data}
	if ev.Mimetype == MimetypeJSON && len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &req.Body); err != nil {
			return m.exceptionReply(m.unhandledException,
				fmt.Errorf("request body: %w", err), debug.Stack())
		}
	}

	ret, err := handler(ctx, req, args...)
	if err != nil {
		var he *HandleError
		if errors.As(err, &he) {
			m.log.Debug("Event handler failed", "handler", name, "code", he.Code, "err", he.Err)
			return m.exceptionReply(he.Code, err, debug.Stack())
		}
		m.log.Warn("Event handler failed", "handler", name, "err", err)
		return m.exceptionReply(m.unhandledException, err, debug.Stack())
	}

	res, ok := ret.(*Result)
	if !ok {
		res = &Result{Payload: ret}
	}
	if res.Mimetype == "" {
		res.Mimetype = MimetypeJSON
	}

	data, err := encodePayload(res.Mimetype, res.Payload)
	if err != nil {
		m.log.Warn("Event reply not encodable", "handler", name, "err", err)
		return m.exceptionReply(m.unhandledException, err, debug.Stack())
	}
	return &wire.EventReply{
		Version:  wire.Version,
		Code:     res.Code,
		Mimetype: res.Mimetype,
		Data:     data,
	}
}

// exceptionEnvelope is the JSON reply body for failed handlers.
type exceptionEnvelope struct {
	Exception struct {
		Message   string `json:"message"`
		Traceback string `json:"traceback"`
		Class     string `json:"class"`
	} `json:"exception"`
}

func (m *Mux) exceptionReply(code int32, cause interface{}, trace []byte) *wire.EventReply {
	var env exceptionEnvelope
	env.Exception.Message = fmt.Sprint(cause)
	env.Exception.Traceback = string(trace)
	env.Exception.Class = exceptionClass(cause)

	data, err := json.Marshal(&env)
	if err != nil {
		// The envelope is all plain strings; this cannot happen.
		data = nil
	}
	return &wire.EventReply{
		Version:  wire.Version,
		Code:     code,
		Mimetype: MimetypeJSON,
		Data:     data,
	}
}

// exceptionClass names the failure's Go type the way the envelope's
// consumers expect a class name: unqualified and without pointer marks.
func exceptionClass(cause interface{}) string {
	var he *HandleError
	if err, ok := cause.(error); ok && errors.As(err, &he) {
		cause = he.Err
	}
	t := reflect.TypeOf(cause)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// encodePayload renders a handler return as reply bytes. Bytes and
// strings pass through for any mimetype; everything else must be JSON.
func encodePayload(mimetype string, payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		if mimetype != MimetypeJSON {
			return nil, fmt.Errorf("non-raw payload %T requires %s, have %q", payload, MimetypeJSON, mimetype)
		}
		return json.Marshal(payload)
	}
}

// splitNoun separates a noun into its handler name and positional
// arguments. The part left of the first "//" has its slashes folded to
// underscores; the remainder splits on "/". "cat//3/4" names "cat"
// with arguments ["3" "4"]; a bare or empty remainder yields none.
func splitNoun(noun string) (name string, args []string) {
	name = noun
	if i := strings.Index(noun, "//"); i >= 0 {
		name = noun[:i]
		if rest := noun[i+2:]; rest != "" {
			args = strings.Split(rest, "/")
		}
	}
	return strings.ReplaceAll(name, "/", "_"), args
}

// Handler providers are registered by name so configuration can select
// one without the core importing it.
var (
	providersMu sync.Mutex
	providers   = make(map[string]HandlerProvider)
)

// RegisterHandlerProvider adds a named provider. Duplicate names panic;
// registration happens from init functions or process construction.
func RegisterHandlerProvider(name string, p HandlerProvider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if _, ok := providers[name]; ok {
		panic("pipe: duplicate handler provider registration: " + name)
	}
	providers[name] = p
}

// HandlerProviderByName returns a registered provider.
func HandlerProviderByName(name string) (HandlerProvider, error) {
	providersMu.Lock()
	defer providersMu.Unlock()
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown handler provider %q", name)
	}
	return p, nil
}
