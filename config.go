package websocket

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// min size to be able to store control messages data
	minBufferSize = 256

	defaultBufferSize       = 4096
	defaultMaxPayload       = 16 << 20
	defaultCloseGracePeriod = 15 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultInboxSize        = 16
)

// Config holds the per-connection settings. The zero value of a duration or
// size field selects the default, except PingInterval where 0 disables
// keepalive.
type Config struct {
	Logger *zap.Logger

	ReadBufferSize  int
	WriteBufferSize int

	// Frames declaring a larger payload are rejected with 1009 before any
	// payload byte is read.
	MaxFramePayload int
	MaxMessageSize  int

	// WriteFragmentSize splits outgoing messages into frames of at most this
	// many bytes. 0 sends every message as a single frame.
	WriteFragmentSize int

	CloseGracePeriod time.Duration
	HandshakeTimeout time.Duration

	PingInterval time.Duration
	PongTimeout  time.Duration

	Subprotocols []string

	// InboxSize is the number of received messages buffered before the read
	// loop stops reading from the transport.
	InboxSize int
}

type Option func(*Config)

func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   defaultBufferSize,
		WriteBufferSize:  defaultBufferSize,
		MaxFramePayload:  defaultMaxPayload,
		MaxMessageSize:   defaultMaxPayload,
		CloseGracePeriod: defaultCloseGracePeriod,
		HandshakeTimeout: defaultHandshakeTimeout,
		InboxSize:        defaultInboxSize,
	}
}

func newConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.ReadBufferSize < minBufferSize {
		cfg.ReadBufferSize = minBufferSize
	}
	if cfg.WriteBufferSize < minBufferSize {
		cfg.WriteBufferSize = minBufferSize
	}
	if cfg.MaxFramePayload <= 0 {
		cfg.MaxFramePayload = defaultMaxPayload
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxPayload
	}
	if cfg.WriteFragmentSize < 0 {
		cfg.WriteFragmentSize = 0
	}
	if cfg.CloseGracePeriod <= 0 {
		cfg.CloseGracePeriod = defaultCloseGracePeriod
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PingInterval > 0 && cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.InboxSize < 0 {
		cfg.InboxSize = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = envLogger()
	}

	return cfg
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithReadBufferSize(n int) Option {
	return func(c *Config) { c.ReadBufferSize = n }
}

func WithWriteBufferSize(n int) Option {
	return func(c *Config) { c.WriteBufferSize = n }
}

func WithMaxFramePayload(n int) Option {
	return func(c *Config) { c.MaxFramePayload = n }
}

func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

func WithWriteFragmentSize(n int) Option {
	return func(c *Config) { c.WriteFragmentSize = n }
}

// WithCloseGracePeriod bounds how long a closing connection waits for the
// peer before the transport is closed.
func WithCloseGracePeriod(d time.Duration) Option {
	return func(c *Config) { c.CloseGracePeriod = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithPingInterval enables keepalive: a Ping is sent after d without any
// received frame.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

func WithPongTimeout(d time.Duration) Option {
	return func(c *Config) { c.PongTimeout = d }
}

func WithSubprotocols(protocols ...string) Option {
	return func(c *Config) { c.Subprotocols = protocols }
}

func WithInboxSize(n int) Option {
	return func(c *Config) { c.InboxSize = n }
}

// Engine logs are silent unless WS_LOG=1. WS_LOG_FILE redirects them to a
// file instead of stdout.
var envLogger = sync.OnceValue(func() *zap.Logger {
	if os.Getenv("WS_LOG") != "1" {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	if path := os.Getenv("WS_LOG_FILE"); path != "" {
		cfg.OutputPaths = []string{path}
	}

	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "websocket: failed to build logger: %s\n", err)
		return zap.NewNop()
	}

	return l
})
