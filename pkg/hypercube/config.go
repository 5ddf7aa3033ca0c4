package hypercube

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the websocket transport and dispatch of a Scope.
type Config struct {
	// PingPeriod is the interval between server pings. Zero disables
	// server-initiated pings.
	// Default: 0.
	PingPeriod time.Duration

	// Timeout is how long the server waits for a pong before treating the
	// connection as dead. Only used when PingPeriod is set.
	// Default: 15 seconds.
	Timeout time.Duration

	// MaxFrameSize is the maximum size of an incoming message. Zero means
	// no limit.
	// Default: 0.
	MaxFrameSize int64

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// CloseGracePeriod is how long Close waits for the peer to answer the
	// close frame before the connection is torn down.
	// Default: 1 second.
	CloseGracePeriod time.Duration

	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	// Default: 4096.
	ReadBufferSize  int
	WriteBufferSize int

	// EnableCompression negotiates per-message compression.
	EnableCompression bool

	// CheckOrigin validates the Origin header during the upgrade.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Middleware wraps the routing of every inbound text frame, outermost
	// first.
	Middleware []Middleware
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:          15 * time.Second,
		WriteTimeout:     10 * time.Second,
		CloseGracePeriod: time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      SameOriginCheck,
	}
}

// withDefaults returns a copy of c with unset fields filled in.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	if c == nil {
		defaults.Logger = slog.Default()
		return defaults
	}

	out := *c
	out.Middleware = append([]Middleware(nil), c.Middleware...)
	if out.Timeout == 0 {
		out.Timeout = defaults.Timeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.CloseGracePeriod == 0 {
		out.CloseGracePeriod = defaults.CloseGracePeriod
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// warnings returns human-readable notes about suspicious settings.
func (c *Config) warnings() []string {
	var w []string
	if c.PingPeriod > 0 && c.Timeout <= c.PingPeriod {
		w = append(w, "Timeout should be longer than PingPeriod; connections may be dropped between pings")
	}
	if c.MaxFrameSize < 0 {
		w = append(w, "MaxFrameSize is negative; no limit will be applied")
	}
	return w
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// AllowAnyOrigin accepts every request. Only use it behind another origin
// check.
func AllowAnyOrigin(*http.Request) bool {
	return true
}
