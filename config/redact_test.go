package config

import (
	"testing"
)

func TestRedactConfig_AllFields(t *testing.T) {
	cfg := DefaultConfig()

	// Set all sensitive fields
	cfg.Auth.Token = "inline-token"
	cfg.Sinks.Webhooks = []WebhookConfig{
		{URL: "http://127.0.0.1:7421/a", Secret: "wh-secret"},
	}

	redacted, err := RedactConfig(cfg)
	if err != nil {
		t.Fatalf("RedactConfig error: %v", err)
	}

	if redacted.Auth.Token != RedactedValue {
		t.Errorf("Auth.Token: got %q, want %q", redacted.Auth.Token, RedactedValue)
	}
	if redacted.Sinks.Webhooks[0].Secret != RedactedValue {
		t.Errorf("Webhook.Secret: got %q, want %q", redacted.Sinks.Webhooks[0].Secret, RedactedValue)
	}
	// Non-secret fields pass through untouched
	if redacted.Sinks.Webhooks[0].URL != "http://127.0.0.1:7421/a" {
		t.Errorf("Webhook.URL changed: %q", redacted.Sinks.Webhooks[0].URL)
	}
}

func TestRedactConfig_EmptyStaysEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Token = ""
	cfg.Auth.TokenFile = "/home/dev/.speclint/token"

	redacted, err := RedactConfig(cfg)
	if err != nil {
		t.Fatalf("RedactConfig error: %v", err)
	}

	if redacted.Auth.Token != "" {
		t.Errorf("empty field got redacted: %q", redacted.Auth.Token)
	}
	// The file path is a reference, not a secret
	if redacted.Auth.TokenFile != "/home/dev/.speclint/token" {
		t.Errorf("token_file changed: %q", redacted.Auth.TokenFile)
	}
}

func TestRedactConfig_OriginalUnchanged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Token = "original-token"

	_, err := RedactConfig(cfg)
	if err != nil {
		t.Fatalf("RedactConfig error: %v", err)
	}

	if cfg.Auth.Token != "original-token" {
		t.Errorf("original was mutated: got %q", cfg.Auth.Token)
	}
}
