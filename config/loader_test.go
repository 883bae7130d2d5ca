package config

import (
	"os"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
service:
  url: https://api.example.com
  organization: acme
  project: storefront
  tag: editor

client:
  timeout: 10s
  poll_interval: 1s
  poll_max_attempts: 5

cache:
  max_entries: 50
  ttl: 2m

sinks:
  webhooks:
    - url: http://127.0.0.1:7421/diagnostics
      secret: s3cret
      events: ["published"]
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Service.URL != "https://api.example.com" {
		t.Errorf("expected service url https://api.example.com, got %s", cfg.Service.URL)
	}

	if cfg.Service.Organization != "acme" {
		t.Errorf("expected organization acme, got %s", cfg.Service.Organization)
	}

	if cfg.Client.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", cfg.Client.Timeout)
	}

	if cfg.Client.PollInterval != time.Second {
		t.Errorf("expected poll_interval 1s, got %v", cfg.Client.PollInterval)
	}

	if cfg.Client.PollMaxAttempts != 5 {
		t.Errorf("expected poll_max_attempts 5, got %d", cfg.Client.PollMaxAttempts)
	}

	// Unset fields keep their defaults
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Client.MaxRetries)
	}

	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("expected cache max_entries 50, got %d", cfg.Cache.MaxEntries)
	}

	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("expected cache ttl 2m, got %v", cfg.Cache.TTL)
	}

	if len(cfg.Sinks.Webhooks) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(cfg.Sinks.Webhooks))
	}

	if cfg.Sinks.Webhooks[0].Secret != "s3cret" {
		t.Errorf("expected webhook secret s3cret, got %s", cfg.Sinks.Webhooks[0].Secret)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	os.Setenv("TEST_SPECLINT_URL", "https://env.example.com")
	os.Setenv("TEST_SPECLINT_TOKEN", "tok-from-env")
	defer os.Unsetenv("TEST_SPECLINT_URL")
	defer os.Unsetenv("TEST_SPECLINT_TOKEN")

	yaml := `
service:
  url: ${TEST_SPECLINT_URL}
  organization: acme
  project: storefront

auth:
  token: ${TEST_SPECLINT_TOKEN}
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Service.URL != "https://env.example.com" {
		t.Errorf("expected url from env, got %s", cfg.Service.URL)
	}

	if cfg.Auth.Token != "tok-from-env" {
		t.Errorf("expected token 'tok-from-env' from env, got '%s'", cfg.Auth.Token)
	}
}

func TestLoaderUnsetEnvVarKept(t *testing.T) {
	os.Unsetenv("SPECLINT_DEFINITELY_UNSET")

	yaml := `
service:
  url: https://api.example.com
auth:
  token: ${SPECLINT_DEFINITELY_UNSET}
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Auth.Token != "${SPECLINT_DEFINITELY_UNSET}" {
		t.Errorf("expected unexpanded placeholder for unset var, got %q", cfg.Auth.Token)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid config",
			yaml: `
service:
  url: https://api.example.com
  organization: acme
  project: storefront
`,
			wantErr: false,
		},
		{
			name: "missing org and project is allowed",
			yaml: `
service:
  url: https://api.example.com
`,
			wantErr: false,
		},
		{
			name: "bad service url scheme",
			yaml: `
service:
  url: ftp://api.example.com
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			yaml: `
client:
  timeout: -5s
`,
			wantErr: true,
		},
		{
			name: "zero poll interval",
			yaml: `
client:
  poll_interval: 0s
`,
			wantErr: true,
		},
		{
			name: "initial backoff above max backoff",
			yaml: `
client:
  initial_backoff: 20s
  max_backoff: 10s
`,
			wantErr: true,
		},
		{
			name: "zero cache entries",
			yaml: `
cache:
  max_entries: 0
`,
			wantErr: true,
		},
		{
			name: "extension without dot",
			yaml: `
watch:
  extensions: ["yaml"]
`,
			wantErr: true,
		},
		{
			name: "invalid exclude glob",
			yaml: `
watch:
  exclude: ["[oops"]
`,
			wantErr: true,
		},
		{
			name: "valid exclude glob",
			yaml: `
watch:
  exclude: ["**/gen/**"]
`,
			wantErr: false,
		},
		{
			name: "webhook without url",
			yaml: `
sinks:
  webhooks:
    - secret: s3cret
`,
			wantErr: true,
		},
		{
			name: "webhook with bad scheme",
			yaml: `
sinks:
  webhooks:
    - url: nats://bus.local/diag
`,
			wantErr: true,
		},
		{
			name: "duplicate webhook url",
			yaml: `
sinks:
  webhooks:
    - url: http://127.0.0.1:7421/a
    - url: http://127.0.0.1:7421/a
`,
			wantErr: true,
		},
		{
			name: "unknown webhook event",
			yaml: `
sinks:
  webhooks:
    - url: http://127.0.0.1:7421/a
      events: ["exploded"]
`,
			wantErr: true,
		},
		{
			name: "invalid suppress expression",
			yaml: `
evaluate:
  suppress:
    - 'RuleSlug contains'
`,
			wantErr: true,
		},
		{
			name: "valid suppress expression",
			yaml: `
evaluate:
  suppress:
    - 'RuleSlug contains "beta"'
`,
			wantErr: false,
		},
		{
			name: "invalid log level",
			yaml: `
logging:
  level: loud
`,
			wantErr: true,
		},
		{
			name: "admin port out of range",
			yaml: `
admin:
  enabled: true
  port: 70000
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			_, err := loader.Parse([]byte(tt.yaml))
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Client.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Client.Timeout)
	}

	if cfg.Client.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Client.MaxRetries)
	}

	if cfg.Client.PollInterval != 2*time.Second {
		t.Errorf("expected default poll_interval 2s, got %v", cfg.Client.PollInterval)
	}

	if cfg.Client.PollMaxAttempts != 30 {
		t.Errorf("expected default poll_max_attempts 30, got %d", cfg.Client.PollMaxAttempts)
	}

	if !cfg.Evaluate.OnSave {
		t.Error("expected evaluate.on_save to default to true")
	}

	if cfg.Evaluate.OnType {
		t.Error("expected evaluate.on_type to default to false")
	}

	if cfg.Evaluate.Debounce != time.Second {
		t.Errorf("expected default debounce 1s, got %v", cfg.Evaluate.Debounce)
	}

	if cfg.Cache.MaxEntries != 100 {
		t.Errorf("expected default cache max_entries 100, got %d", cfg.Cache.MaxEntries)
	}

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected default cache ttl 5m, got %v", cfg.Cache.TTL)
	}

	if cfg.Admin.Port != 8321 {
		t.Errorf("expected default admin port 8321, got %d", cfg.Admin.Port)
	}
}

func TestExplicitFalseOverridesDefault(t *testing.T) {
	yaml := `
evaluate:
  on_save: false
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Evaluate.OnSave {
		t.Error("expected on_save false when set explicitly")
	}
}

func TestMerge(t *testing.T) {
	base := &Config{
		Service: ServiceConfig{
			URL:          "https://api.example.com",
			Organization: "acme",
			Project:      "base-project",
		},
		Evaluate: EvaluateConfig{
			Suppress: []string{`Severity == "info"`},
		},
		Sinks: SinksConfig{
			Webhooks: []WebhookConfig{{URL: "http://127.0.0.1:7421/base"}},
		},
	}

	overlay := &Config{
		Service: ServiceConfig{
			Project: "storefront", // Override
		},
		Evaluate: EvaluateConfig{
			Suppress: []string{`RuleSlug contains "beta"`},
		},
		Sinks: SinksConfig{
			Webhooks: []WebhookConfig{{URL: "http://127.0.0.1:7421/overlay"}},
		},
	}

	result := Merge(base, overlay)

	if result.Service.URL != "https://api.example.com" {
		t.Errorf("expected preserved url, got %s", result.Service.URL)
	}

	if result.Service.Organization != "acme" {
		t.Errorf("expected preserved organization, got %s", result.Service.Organization)
	}

	if result.Service.Project != "storefront" {
		t.Errorf("expected merged project storefront, got %s", result.Service.Project)
	}

	if len(result.Evaluate.Suppress) != 2 {
		t.Errorf("expected 2 accumulated suppress expressions, got %d", len(result.Evaluate.Suppress))
	}

	if len(result.Sinks.Webhooks) != 2 {
		t.Errorf("expected 2 webhooks after merge, got %d", len(result.Sinks.Webhooks))
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SPECLINT_SERVICE_URL", "https://env.example.com")
	os.Setenv("SPECLINT_ORGANIZATION", "acme")
	os.Setenv("SPECLINT_PROJECT", "storefront")
	os.Setenv("SPECLINT_TOKEN", "env-token")
	defer os.Unsetenv("SPECLINT_SERVICE_URL")
	defer os.Unsetenv("SPECLINT_ORGANIZATION")
	defer os.Unsetenv("SPECLINT_PROJECT")
	defer os.Unsetenv("SPECLINT_TOKEN")

	loader := NewLoader()
	cfg, err := loader.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Service.URL != "https://env.example.com" {
		t.Errorf("expected url from env, got %s", cfg.Service.URL)
	}

	if cfg.Service.Organization != "acme" {
		t.Errorf("expected organization acme from env, got %s", cfg.Service.Organization)
	}

	if cfg.Auth.Token != "env-token" {
		t.Errorf("expected token 'env-token' from env, got '%s'", cfg.Auth.Token)
	}
}
