package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/goccy/go-yaml"
)

// validLogLevels contains the accepted logging levels.
var validLogLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "error": true,
}

// validSinkEvents contains the accepted webhook event filter names.
var validSinkEvents = map[string]bool{
	"*": true, "published": true, "started": true, "finished": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	// Service URL must be well-formed when set. Organization/project may
	// be empty; the evaluation client reports the missing context per
	// document instead of refusing to start.
	if cfg.Service.URL != "" {
		u, err := url.Parse(cfg.Service.URL)
		if err != nil {
			return fmt.Errorf("service.url is invalid: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service.url must use http or https, got %q", cfg.Service.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("service.url is missing a host: %q", cfg.Service.URL)
		}
	}

	// Client settings
	if cfg.Client.Timeout < 0 {
		return fmt.Errorf("client.timeout must be >= 0")
	}
	if cfg.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must be >= 0")
	}
	if cfg.Client.InitialBackoff < 0 {
		return fmt.Errorf("client.initial_backoff must be >= 0")
	}
	if cfg.Client.MaxBackoff < 0 {
		return fmt.Errorf("client.max_backoff must be >= 0")
	}
	if cfg.Client.MaxBackoff > 0 && cfg.Client.InitialBackoff > cfg.Client.MaxBackoff {
		return fmt.Errorf("client.initial_backoff must be <= client.max_backoff")
	}
	if cfg.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be > 0")
	}
	if cfg.Client.PollMaxAttempts <= 0 {
		return fmt.Errorf("client.poll_max_attempts must be > 0")
	}
	if cfg.Client.RateLimit < 0 {
		return fmt.Errorf("client.rate_limit must be >= 0")
	}
	if cfg.Client.RateBurst < 0 {
		return fmt.Errorf("client.rate_burst must be >= 0")
	}
	if cfg.Client.Breaker.Enabled {
		if cfg.Client.Breaker.FailureThreshold != 0 && cfg.Client.Breaker.FailureThreshold < 1 {
			return fmt.Errorf("client.breaker.failure_threshold must be > 0")
		}
		if cfg.Client.Breaker.SuccessThreshold != 0 && cfg.Client.Breaker.SuccessThreshold < 1 {
			return fmt.Errorf("client.breaker.success_threshold must be > 0")
		}
		if cfg.Client.Breaker.Timeout < 0 {
			return fmt.Errorf("client.breaker.timeout must be >= 0")
		}
	}

	// Evaluation settings
	if cfg.Evaluate.Debounce < 0 {
		return fmt.Errorf("evaluate.debounce must be >= 0")
	}
	for i, src := range cfg.Evaluate.Suppress {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("evaluate.suppress[%d]: expression must not be empty", i)
		}
		// Syntax-only compile; the suppression filter compiles again with
		// its typed environment and catches unknown identifiers there.
		if _, err := expr.Compile(src); err != nil {
			return fmt.Errorf("evaluate.suppress[%d]: invalid expression: %w", i, err)
		}
	}

	// Cache bounds
	if cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}

	// Watch settings
	for i, ext := range cfg.Watch.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("watch.extensions[%d]: must start with a dot, got %q", i, ext)
		}
	}
	for i, pattern := range cfg.Watch.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("watch.exclude[%d]: invalid glob pattern %q", i, pattern)
		}
	}

	// Webhook sinks
	seen := make(map[string]bool)
	for i, wh := range cfg.Sinks.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("sinks.webhooks[%d]: url is required", i)
		}
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			return fmt.Errorf("sinks.webhooks[%d]: url must start with http:// or https://", i)
		}
		if seen[wh.URL] {
			return fmt.Errorf("sinks.webhooks[%d]: duplicate url %s", i, wh.URL)
		}
		seen[wh.URL] = true
		if wh.Timeout < 0 {
			return fmt.Errorf("sinks.webhooks[%d]: timeout must be >= 0", i)
		}
		for _, ev := range wh.Events {
			if !validSinkEvents[ev] {
				return fmt.Errorf("sinks.webhooks[%d]: unknown event %q (must be published, started, finished, or *)", i, ev)
			}
		}
	}

	// Logging
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Encoding != "" && cfg.Logging.Encoding != "json" && cfg.Logging.Encoding != "console" {
		return fmt.Errorf("logging.encoding must be json or console, got %q", cfg.Logging.Encoding)
	}

	// Admin endpoint
	if cfg.Admin.Enabled {
		if cfg.Admin.Port < 1 || cfg.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be between 1 and 65535, got %d", cfg.Admin.Port)
		}
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	// Override with environment variables
	if u := os.Getenv("SPECLINT_SERVICE_URL"); u != "" {
		cfg.Service.URL = u
	}
	if org := os.Getenv("SPECLINT_ORGANIZATION"); org != "" {
		cfg.Service.Organization = org
	}
	if project := os.Getenv("SPECLINT_PROJECT"); project != "" {
		cfg.Service.Project = project
	}
	if token := os.Getenv("SPECLINT_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Merge combines two configurations, with overlay taking precedence.
// Used to layer a project-local config file over a global one.
func Merge(base, overlay *Config) *Config {
	result := *base

	if overlay.Service.URL != "" {
		result.Service.URL = overlay.Service.URL
	}
	if overlay.Service.Organization != "" {
		result.Service.Organization = overlay.Service.Organization
	}
	if overlay.Service.Project != "" {
		result.Service.Project = overlay.Service.Project
	}
	if overlay.Service.Tag != "" {
		result.Service.Tag = overlay.Service.Tag
	}

	if overlay.Auth.Token != "" {
		result.Auth.Token = overlay.Auth.Token
	}
	if overlay.Auth.TokenEnv != "" {
		result.Auth.TokenEnv = overlay.Auth.TokenEnv
	}
	if overlay.Auth.TokenFile != "" {
		result.Auth.TokenFile = overlay.Auth.TokenFile
	}

	// Overlay watch roots replace the base set
	if len(overlay.Watch.Paths) > 0 {
		result.Watch.Paths = overlay.Watch.Paths
	}

	// Append webhook endpoints (don't replace)
	if len(overlay.Sinks.Webhooks) > 0 {
		result.Sinks.Webhooks = append(append([]WebhookConfig(nil), base.Sinks.Webhooks...), overlay.Sinks.Webhooks...)
	}

	// Suppress expressions accumulate
	if len(overlay.Evaluate.Suppress) > 0 {
		result.Evaluate.Suppress = append(append([]string(nil), base.Evaluate.Suppress...), overlay.Evaluate.Suppress...)
	}

	return &result
}
