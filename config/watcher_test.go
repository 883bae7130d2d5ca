package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, level string) {
	t.Helper()
	yaml := `
service:
  url: https://api.example.com
  organization: acme
  project: storefront

logging:
  level: ` + level + `
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speclint.yaml")
	writeConfigFile(t, path, "info")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)
	t.Cleanup(func() { w.Stop() })
	return w, path
}

func TestWatcherLoadsInitialConfig(t *testing.T) {
	w, _ := newTestWatcher(t)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("expected initial config")
	}
	if cfg.Service.Organization != "acme" {
		t.Errorf("expected organization acme, got %s", cfg.Service.Organization)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Logging.Level)
	}
}

func TestWatcherRejectsBadInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speclint.yaml")
	if err := os.WriteFile(path, []byte("service:\n  url: not-a-url\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcherNotifiesOnChange(t *testing.T) {
	w, path := newTestWatcher(t)

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeConfigFile(t, path, "debug")

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected reloaded level debug, got %s", cfg.Logging.Level)
		}
		if w.Current().Logging.Level != "debug" {
			t.Errorf("Current not updated, got %s", w.Current().Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change callback")
	}
}

func TestWatcherIgnoresIdenticalRewrite(t *testing.T) {
	w, path := newTestWatcher(t)

	changed := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changed <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Same bytes as the initial file: no callback expected.
	writeConfigFile(t, path, "info")

	select {
	case <-changed:
		t.Fatal("unexpected callback for byte-identical rewrite")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherKeepsPreviousConfigOnParseError(t *testing.T) {
	w, path := newTestWatcher(t)

	changed := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changed <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("cache:\n  max_entries: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("unexpected callback for invalid config")
	case <-time.After(200 * time.Millisecond):
	}
	if w.Current().Logging.Level != "info" {
		t.Errorf("previous config not retained, got level %s", w.Current().Logging.Level)
	}

	// A subsequent valid write still lands.
	writeConfigFile(t, path, "warn")
	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "warn" {
			t.Errorf("expected level warn after recovery, got %s", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for recovery reload")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	w, path := newTestWatcher(t)

	changed := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { changed <- cfg })
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other := filepath.Join(filepath.Dir(path), "notes.txt")
	if err := os.WriteFile(other, []byte("unrelated"), 0o644); err != nil {
		t.Fatalf("write other file: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("unexpected callback for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
