package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tickerctl/internal/auth"
	"github.com/danmuck/tickerctl/internal/logging"
	"github.com/danmuck/tickerctl/internal/protocol/session"
)

const (
	EnvAPIKey    = "TICKERCTL_API_KEY"
	EnvAPISecret = "TICKERCTL_API_SECRET"
)

var ErrInvalid = errors.New("config: invalid")

// Subscriptions lists what the stream command asks for after connecting.
type Subscriptions struct {
	Exchange      []string
	Summary       bool
	SummaryLite   bool
	QuerySummary  bool
	QueryExchange []string
}

// Empty reports whether nothing would be subscribed.
func (s Subscriptions) Empty() bool {
	return len(s.Exchange) == 0 && !s.Summary && !s.SummaryLite &&
		!s.QuerySummary && len(s.QueryExchange) == 0
}

// Config is the resolved CLI configuration.
type Config struct {
	Session       session.Config
	Log           logging.Config
	AdminListen   string
	Credentials   auth.Credentials
	Subscriptions Subscriptions
}

func Default() Config {
	return Config{
		Session: session.DefaultConfig(),
		Log:     logging.DefaultConfig(logging.ProfileRuntime),
	}
}

type fileConfig struct {
	URL                  string  `toml:"url"`
	Hub                  string  `toml:"hub"`
	ConnectTimeout       string  `toml:"connect_timeout"`
	HandshakeTimeout     string  `toml:"handshake_timeout"`
	ReadTimeout          string  `toml:"read_timeout"`
	WriteTimeout         string  `toml:"write_timeout"`
	MaxReconnectAttempts int     `toml:"max_reconnect_attempts"`
	InvokeRate           float64 `toml:"invoke_rate"`
	InvokeBurst          int     `toml:"invoke_burst"`
	AdminListen          string  `toml:"admin_listen"`

	Backoff struct {
		Initial    string  `toml:"initial"`
		Max        string  `toml:"max"`
		Multiplier float64 `toml:"multiplier"`
		Jitter     bool    `toml:"jitter"`
	} `toml:"backoff"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		NoColor    bool   `toml:"no_color"`
		Timestamp  bool   `toml:"timestamp"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`

	Auth struct {
		Key    string `toml:"key"`
		Secret string `toml:"secret"`
	} `toml:"auth"`

	Subscriptions struct {
		Exchange      []string `toml:"exchange"`
		Summary       bool     `toml:"summary"`
		SummaryLite   bool     `toml:"summary_lite"`
		QuerySummary  bool     `toml:"query_summary"`
		QueryExchange []string `toml:"query_exchange"`
	} `toml:"subscriptions"`
}

// Load reads path over Default and then applies the credential env vars.
// Only keys present in the file override defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("url") {
		cfg.Session.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("hub") {
		cfg.Session.Hub = strings.TrimSpace(raw.Hub)
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"connect_timeout"}, raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{[]string{"handshake_timeout"}, raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{[]string{"read_timeout"}, raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{[]string{"write_timeout"}, raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{[]string{"backoff", "initial"}, raw.Backoff.Initial, &cfg.Session.Backoff.InitialDelay},
		{[]string{"backoff", "max"}, raw.Backoff.Max, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.Session.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("invoke_rate") {
		cfg.Session.InvokeRate = raw.InvokeRate
	}
	if meta.IsDefined("invoke_burst") {
		cfg.Session.InvokeBurst = raw.InvokeBurst
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}

	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("%w: log.level %q", ErrInvalid, raw.Log.Level)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "max_size_mb") {
		cfg.Log.MaxSizeMB = raw.Log.MaxSizeMB
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age_days") {
		cfg.Log.MaxAgeDays = raw.Log.MaxAgeDays
	}

	if meta.IsDefined("auth", "key") {
		cfg.Credentials.Key = strings.TrimSpace(raw.Auth.Key)
	}
	if meta.IsDefined("auth", "secret") {
		cfg.Credentials.Secret = strings.TrimSpace(raw.Auth.Secret)
	}

	cfg.Subscriptions = Subscriptions{
		Exchange:      NormalizeTickers(raw.Subscriptions.Exchange),
		Summary:       raw.Subscriptions.Summary,
		SummaryLite:   raw.Subscriptions.SummaryLite,
		QuerySummary:  raw.Subscriptions.QuerySummary,
		QueryExchange: NormalizeTickers(raw.Subscriptions.QueryExchange),
	}

	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv lets credentials come from the environment instead of the file.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.Credentials.Key = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		cfg.Credentials.Secret = v
	}
}

func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.AdminListen != "" {
		if _, _, err := net.SplitHostPort(c.AdminListen); err != nil {
			return fmt.Errorf("%w: admin_listen: %v", ErrInvalid, err)
		}
	}
	hasKey, hasSecret := c.Credentials.Key != "", c.Credentials.Secret != ""
	if hasKey != hasSecret {
		return fmt.Errorf("%w: auth needs both key and secret", ErrInvalid)
	}
	return nil
}

// HasCredentials reports whether both halves of the API key are set.
func (c Config) HasCredentials() bool {
	return c.Credentials.Validate() == nil
}
