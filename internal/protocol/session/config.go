package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/tickerctl/internal/protocol"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	URL              string
	Hub              string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 retries forever.
	MaxReconnectAttempts int
	// InvokeRate limits outbound invokes per second; 0 disables limiting.
	InvokeRate  float64
	InvokeBurst int
	Backoff     BackoffConfig
}

// DefaultConfig returns defaults for the public v3 hub.
func DefaultConfig() Config {
	return Config{
		URL:              protocol.DefaultURL,
		Hub:              protocol.DefaultHub,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
		InvokeBurst:      1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.URL) == "" {
		c.URL = def.URL
	}
	if strings.TrimSpace(c.Hub) == "" {
		c.Hub = def.Hub
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.InvokeBurst <= 0 {
		c.InvokeBurst = def.InvokeBurst
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 && c.Backoff.Multiplier == 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url missing host", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Hub) == "" {
		return fmt.Errorf("%w: missing hub", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative max_reconnect_attempts", ErrInvalidConfig)
	}
	if c.InvokeRate < 0 {
		return fmt.Errorf("%w: negative invoke_rate", ErrInvalidConfig)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidConfig)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: backoff initial delay exceeds max delay", ErrInvalidConfig)
	}
	return nil
}
