package config

import (
	"time"
)

// Config represents the complete linter configuration
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Auth     AuthConfig     `yaml:"auth"`
	Client   ClientConfig   `yaml:"client"`
	Evaluate EvaluateConfig `yaml:"evaluate"`
	Cache    CacheConfig    `yaml:"cache"`
	Watch    WatchConfig    `yaml:"watch"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Logging  LoggingConfig  `yaml:"logging"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServiceConfig identifies the remote evaluation service and the
// organization/project context uploads are filed under.
type ServiceConfig struct {
	URL          string `yaml:"url"`
	Organization string `yaml:"organization"`
	Project      string `yaml:"project"`
	Tag          string `yaml:"tag"` // optional; a per-session tag is generated when empty
}

// AuthConfig defines where the service access token comes from.
// Sources are tried in order: inline token, named environment variable,
// token file. All may be empty; the service answers 401 in that case.
type AuthConfig struct {
	Token     string `yaml:"token" redact:"true"`
	TokenEnv  string `yaml:"token_env"`
	TokenFile string `yaml:"token_file"`
}

// ClientConfig tunes the evaluation client's network behavior.
type ClientConfig struct {
	Timeout         time.Duration `yaml:"timeout"`           // per-call timeout, default 30s
	MaxRetries      int           `yaml:"max_retries"`       // retry cap for 5xx/transport failures, default 3
	InitialBackoff  time.Duration `yaml:"initial_backoff"`   // default 500ms, doubles per attempt
	MaxBackoff      time.Duration `yaml:"max_backoff"`       // backoff ceiling, default 10s
	PollInterval    time.Duration `yaml:"poll_interval"`     // status poll spacing, default 2s
	PollMaxAttempts int           `yaml:"poll_max_attempts"` // default 30
	RateLimit       float64       `yaml:"rate_limit"`        // requests/second toward the service, 0 = unlimited
	RateBurst       int           `yaml:"rate_burst"`        // token bucket burst, default 1 when rate_limit set
	Breaker         BreakerConfig `yaml:"breaker"`
}

// BreakerConfig defines the consecutive-failure circuit breaker in front
// of the evaluation service.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"` // failures to open, default 5
	SuccessThreshold int           `yaml:"success_threshold"` // half-open successes to close, default 2
	Timeout          time.Duration `yaml:"timeout"`           // open duration before half-open, default 30s
}

// EvaluateConfig controls when documents are evaluated and how results
// are filtered.
type EvaluateConfig struct {
	OnSave      bool          `yaml:"on_save"`      // default true
	OnType      bool          `yaml:"on_type"`      // default false
	Debounce    time.Duration `yaml:"debounce"`     // quiet period for on_type, default 1s
	IncludeInfo bool          `yaml:"include_info"` // default false: info-severity violations are dropped
	Suppress    []string      `yaml:"suppress"`     // expr expressions; matching violations are dropped
}

// CacheConfig bounds the diagnostic result cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"` // default 100
	TTL        time.Duration `yaml:"ttl"`         // default 5m
}

// WatchConfig defines the workspace paths watched in daemon mode.
type WatchConfig struct {
	Paths      []string `yaml:"paths"`
	Extensions []string `yaml:"extensions"`
	IgnoreDirs []string `yaml:"ignore_dirs"`
	Exclude    []string `yaml:"exclude"` // doublestar glob patterns to skip
}

// SinksConfig configures where diagnostics are delivered.
type SinksConfig struct {
	Log      LogSinkConfig   `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// LogSinkConfig configures the structured-log diagnostics sink.
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebhookConfig defines one webhook endpoint receiving diagnostic events.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret" redact:"true"` // HMAC-SHA256 signing key
	Events  []string      `yaml:"events"`               // published, started, finished, or * (empty = all)
	Timeout time.Duration `yaml:"timeout"`              // per-delivery timeout, default 10s
}

// LoggingConfig defines logger settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // json (default) or console
}

// AdminConfig defines the admin/stats HTTP endpoint.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
			PollInterval:    2 * time.Second,
			PollMaxAttempts: 30,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Evaluate: EvaluateConfig{
			OnSave:   true,
			Debounce: time.Second,
		},
		Cache: CacheConfig{
			MaxEntries: 100,
			TTL:        5 * time.Minute,
		},
		Watch: WatchConfig{
			Paths:      []string{"."},
			Extensions: []string{".yaml", ".yml", ".json"},
			IgnoreDirs: []string{".git", "node_modules", "vendor"},
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8321,
		},
	}
}
