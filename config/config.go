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

// Package config loads the daemons' settings. Values resolve in three
// layers: struct defaults, then RP_-prefixed environment variables
// (the timing and code variables are also accepted unprefixed), then
// an optional TOML file which overrides both.
package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/tlsconfig"
	"github.com/kelseyhightower/envconfig"
	"github.com/naoina/toml"
)

// envPrefix is prepended to every environment variable name.
const envPrefix = "rp"

// Seconds is a duration configured as a bare (possibly fractional)
// second count, the unit every *_S variable uses.
type Seconds time.Duration

// Duration converts to the stdlib representation.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// Decode implements envconfig.Decoder.
func (s *Seconds) Decode(value string) error {
	return s.parse(value)
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Seconds) UnmarshalTOML(data []byte) error {
	return s.parse(string(data))
}

func (s *Seconds) parse(value string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("seconds value %q: %w", value, err)
	}
	*s = Seconds(f * float64(time.Second))
	return nil
}

// Timing holds the liveness and wait knobs shared by both daemons.
type Timing struct {
	HeartbeatInterval     Seconds `envconfig:"HEARTBEAT_INTERVAL_S" default:"10" toml:"heartbeat_interval_s"`
	HeartbeatTimeout      Seconds `envconfig:"HEARTBEAT_TIMEOUT_S" default:"10" toml:"heartbeat_timeout_s"`
	ReattemptFloor        Seconds `envconfig:"MINIMAL_CONNECTION_FAIL_REATTEMPT_WAIT_TIME_S" default:"5" toml:"minimal_connection_fail_reattempt_wait_time_s"`
	LoopReadTimeout       Seconds `envconfig:"MESSAGE_LOOP_READ_TIMEOUT_S" default:"5" toml:"message_loop_read_timeout_s"`
	ConnectionWaitTimeout Seconds `envconfig:"DEFAULT_CONNECTION_WAIT_TIMEOUT_S" default:"10" toml:"default_connection_wait_timeout_s"`
	EventTimeout          Seconds `envconfig:"EVENT_TIMEOUT_S" default:"30" toml:"event_timeout_s"`
}

// Codes holds the reserved event-reply codes.
type Codes struct {
	UnhandledEvent     int32 `envconfig:"UNHANDLED_EVENT_CODE" default:"254" toml:"unhandled_event_code"`
	UnhandledException int32 `envconfig:"UNHANDLED_EXCEPTION_CODE" default:"255" toml:"unhandled_exception_code"`
}

// Statsd locates the metrics sink. An empty host disables emission.
type Statsd struct {
	StatsdHost   string `envconfig:"STATSD_HOST" default:"localhost" toml:"statsd_host"`
	StatsdPort   int    `envconfig:"STATSD_PORT" default:"8125" toml:"statsd_port"`
	StatsdPrefix string `envconfig:"STATSD_PREFIX" default:"restpipe" toml:"statsd_prefix"`
}

// Addr returns the sink's host:port, or "" when disabled.
func (s Statsd) Addr() string {
	if s.StatsdHost == "" {
		return ""
	}
	return net.JoinHostPort(s.StatsdHost, strconv.Itoa(s.StatsdPort))
}

// Client configures the dialing daemon.
type Client struct {
	TargetHostname string `envconfig:"CLIENT_TARGET_HOSTNAME" default:"localhost" toml:"target_hostname"`
	TargetPort     int    `envconfig:"CLIENT_TARGET_PORT" default:"8443" toml:"target_port"`

	CertPath      string `envconfig:"CLIENT_CERT_PATH" default:"ssl" toml:"cert_path"`
	KeyFilename   string `envconfig:"CLIENT_KEY_FILENAME" default:"restpipe.client.key.pem" toml:"key_filename"`
	CrtFilename   string `envconfig:"CLIENT_CRT_FILENAME" default:"restpipe.client.crt.pem" toml:"crt_filename"`
	CACrtFilename string `envconfig:"CA_CRT_FILENAME" default:"ca.crt.pem" toml:"ca_crt_filename"`

	HTTPBind string `envconfig:"CLIENT_HTTP_BIND" default:"127.0.0.1:8080" toml:"http_bind"`

	HandlerProvider string `envconfig:"EVENT_HANDLER_FQ_CLASS" default:"test" toml:"handler_provider"`
	StateEvents     string `envconfig:"CLIENT_CONNECTION_STATE_CHANGE_EVENT_CLASS" default:"noop" toml:"state_events"`

	Timing `toml:"timing"`
	Codes  `toml:"codes"`
	Statsd `toml:"statsd"`
}

// Target returns the server's dial address.
func (c *Client) Target() string {
	return net.JoinHostPort(c.TargetHostname, strconv.Itoa(c.TargetPort))
}

// TLSConfig builds the mutual-auth client configuration.
func (c *Client) TLSConfig() (*tls.Config, error) {
	return tlsconfig.Client(tlsconfig.Options{
		CAFile:   filepath.Join(c.CertPath, c.CACrtFilename),
		CertFile: filepath.Join(c.CertPath, c.CrtFilename),
		KeyFile:  filepath.Join(c.CertPath, c.KeyFilename),
	})
}

// Server configures the listening daemon.
type Server struct {
	BindInterface string `envconfig:"SERVER_BIND_INTERFACE" default:"0.0.0.0" toml:"bind_interface"`
	BindPort      int    `envconfig:"SERVER_BIND_PORT" default:"8443" toml:"bind_port"`

	CertPath      string `envconfig:"SERVER_CERT_PATH" default:"ssl" toml:"cert_path"`
	KeyFilename   string `envconfig:"SERVER_KEY_FILENAME" default:"restpipe.server.key.pem" toml:"key_filename"`
	CrtFilename   string `envconfig:"SERVER_CRT_FILENAME" default:"restpipe.server.crt.pem" toml:"crt_filename"`
	CACrtFilename string `envconfig:"CA_CRT_FILENAME" default:"ca.crt.pem" toml:"ca_crt_filename"`

	HTTPBind string `envconfig:"SERVER_HTTP_BIND" default:"127.0.0.1:8081" toml:"http_bind"`

	HandlerProvider string `envconfig:"EVENT_HANDLER_FQ_CLASS" default:"test" toml:"handler_provider"`
	StateEvents     string `envconfig:"SERVER_CONNECTION_STATE_CHANGE_EVENT_CLASS" default:"noop" toml:"state_events"`

	Timing `toml:"timing"`
	Codes  `toml:"codes"`
	Statsd `toml:"statsd"`
}

// Bind returns the pipe listener's address.
func (s *Server) Bind() string {
	return net.JoinHostPort(s.BindInterface, strconv.Itoa(s.BindPort))
}

// TLSConfig builds the mutual-auth server configuration. A peer
// certificate anchored at the CA is required.
func (s *Server) TLSConfig() (*tls.Config, error) {
	return tlsconfig.Server(tlsconfig.Options{
		CAFile:     filepath.Join(s.CertPath, s.CACrtFilename),
		CertFile:   filepath.Join(s.CertPath, s.CrtFilename),
		KeyFile:    filepath.Join(s.CertPath, s.KeyFilename),
		ClientAuth: tls.RequireAndVerifyClientCert,
	})
}

// LoadClient resolves the client configuration, overlaying the TOML
// file when one is named.
func LoadClient(file string) (*Client, error) {
	cfg := new(Client)
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, err
	}
	if err := overlayFile(file, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer resolves the server configuration.
func LoadServer(file string) (*Server, error) {
	cfg := new(Server)
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, err
	}
	if err := overlayFile(file, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayFile(file string, cfg interface{}) error {
	if file == "" {
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config file %s: %w", file, err)
	}
	return nil
}
