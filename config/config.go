// Package config loads client, server and transport settings from YAML.
//
//	client:
//	  sync_request_timeout_ms: 3000
//	server:
//	  num_threads: 4
//	  handler_timeout_ms: 0
//	  rate_limit: {rate: 100, burst: 20}
//	transport:
//	  host: 127.0.0.1
//	  port: 3780
//	  heartbeat_interval_ms: 30000
//	  max_frame_bytes: 67108864
//	logging:
//	  level: info
//
// Omitted keys keep their defaults.
package config

import (
	"bytes"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"msgpack-rpc/logging"
	"msgpack-rpc/rpcerror"
)

type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ClientConfig struct {
	SyncRequestTimeoutMS uint32 `yaml:"sync_request_timeout_ms"`
}

type ServerConfig struct {
	NumThreads       int             `yaml:"num_threads"`
	HandlerTimeoutMS uint32          `yaml:"handler_timeout_ms"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket. A zero rate disables limiting.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type TransportConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	HeartbeatIntervalMS uint32 `yaml:"heartbeat_interval_ms"`
	MaxFrameBytes       uint32 `yaml:"max_frame_bytes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() Config {
	return Config{
		Client: ClientConfig{SyncRequestTimeoutMS: 3000},
		Server: ServerConfig{NumThreads: 1},
		Transport: TransportConfig{
			Host:                "127.0.0.1",
			Port:                3780,
			HeartbeatIntervalMS: 30000,
			MaxFrameBytes:       64 << 20,
		},
		Logging: LoggingConfig{Level: logging.LevelInfo},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, rpcerror.Newf(rpcerror.ConfigParseError, "read config %s: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, rpcerror.Newf(rpcerror.ConfigParseError, "parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first out-of-range option as InvalidConfigValue.
func (c Config) Validate() error {
	switch {
	case c.Client.SyncRequestTimeoutMS == 0:
		return invalid("client.sync_request_timeout_ms", "must be greater than 0")
	case c.Server.NumThreads < 1:
		return invalid("server.num_threads", "must be at least 1")
	case c.Server.RateLimit.Rate < 0:
		return invalid("server.rate_limit.rate", "must not be negative")
	case c.Server.RateLimit.Rate > 0 && c.Server.RateLimit.Burst < 1:
		return invalid("server.rate_limit.burst", "must be at least 1 when a rate is set")
	case c.Transport.Host == "":
		return invalid("transport.host", "must not be empty")
	case c.Transport.Port < 0 || c.Transport.Port > 65535:
		return invalid("transport.port", "must be between 0 and 65535")
	case c.Transport.MaxFrameBytes == 0:
		return invalid("transport.max_frame_bytes", "must be greater than 0")
	}
	if _, _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	return nil
}

func invalid(option, reason string) error {
	return rpcerror.Newf(rpcerror.InvalidConfigValue, "invalid value for %s: %s", option, reason)
}

// Address is host:port of the transport section.
func (t TransportConfig) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t TransportConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalMS) * time.Millisecond
}

func (c ClientConfig) SyncRequestTimeout() time.Duration {
	return time.Duration(c.SyncRequestTimeoutMS) * time.Millisecond
}

func (s ServerConfig) HandlerTimeout() time.Duration {
	return time.Duration(s.HandlerTimeoutMS) * time.Millisecond
}
