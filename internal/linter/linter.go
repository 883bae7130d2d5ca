// Package linter assembles the process: configuration, evaluation
// client, per-document orchestrator, diagnostic sinks, workspace
// watcher and the admin endpoint, with signal-driven lifecycle.
package linter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/admin"
	"github.com/wudi/speclint/internal/credentials"
	"github.com/wudi/speclint/internal/diag"
	"github.com/wudi/speclint/internal/evaluation"
	"github.com/wudi/speclint/internal/locate"
	"github.com/wudi/speclint/internal/metrics"
	"github.com/wudi/speclint/internal/resultcache"
	"github.com/wudi/speclint/internal/sink"
	"github.com/wudi/speclint/internal/suppress"
	"github.com/wudi/speclint/internal/validator"
	"github.com/wudi/speclint/internal/watch"
)

const shutdownTimeout = 30 * time.Second

// Options adjusts how a Linter is assembled. The zero value works.
type Options struct {
	// ConfigPath is kept for reloads; empty disables them.
	ConfigPath string
	// Version is reported by the admin endpoint and Stats.
	Version string
	Logger  *zap.Logger
	// ExtraSinks receive publications after the configured sinks. Used
	// by in-process front ends embedding the linter.
	ExtraSinks []sink.Sink
}

// Linter owns the long-lived components and their lifecycle.
type Linter struct {
	configPath string
	version    string
	logger     *zap.Logger

	mu     sync.Mutex
	cfg    *config.Config
	client *evaluation.Client

	cache     *resultcache.Cache
	collector *metrics.Collector
	orch      *validator.Orchestrator
	webhooks  *sink.WebhookSink
	admin     *admin.Server
	watcher   *watch.Watcher
	cfgWatch  *config.Watcher
	started   time.Time
}

// New wires a linter from a loaded configuration.
func New(cfg *config.Config, opts Options) (*Linter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Linter{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		logger:     logger,
		cfg:        cfg,
		cache:      resultcache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL),
		collector:  metrics.NewCollector(),
		started:    time.Now(),
	}

	snap, err := l.buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	l.client = snap.Client

	sinks := sink.Multi{}
	if cfg.Sinks.Log.Enabled {
		sinks = append(sinks, sink.NewLog(logger))
	}
	if len(cfg.Sinks.Webhooks) > 0 {
		l.webhooks = sink.NewWebhook(cfg.Sinks.Webhooks, logger)
		sinks = append(sinks, l.webhooks)
	}
	sinks = append(sinks, opts.ExtraSinks...)

	l.orch = validator.New(snap, validator.Deps{
		Cache:    l.cache,
		Resolver: locate.New(),
		Sink:     sinks,
		Metrics:  l.collector,
		Logger:   logger,
	})

	if cfg.Admin.Enabled {
		l.admin = admin.New(cfg.Admin, admin.Deps{
			Metrics: l.collector,
			Stats:   func() any { return l.Stats() },
			Config:  l.currentConfig,
			Reload:  l.Reload,
			Version: l.version,
			Logger:  logger,
		})
	}

	return l, nil
}

// buildSnapshot assembles the orchestrator binding for cfg: a fresh
// evaluation client over a token source and the compiled suppression
// filter.
func (l *Linter) buildSnapshot(cfg *config.Config) (validator.Snapshot, error) {
	filter, err := suppress.New(cfg.Evaluate.Suppress, l.logger)
	if err != nil {
		return validator.Snapshot{}, fmt.Errorf("suppress rules: %w", err)
	}
	tokens := credentials.FromConfig(cfg.Auth)
	client := evaluation.New(evaluation.OptionsFromConfig(cfg, tokens, l.logger))
	return validator.Snapshot{
		Client:      client,
		Filter:      filter,
		OnSave:      cfg.Evaluate.OnSave,
		OnType:      cfg.Evaluate.OnType,
		Debounce:    cfg.Evaluate.Debounce,
		IncludeInfo: cfg.Evaluate.IncludeInfo,
	}, nil
}

// Start brings up the workspace watcher, the config file watcher and
// the admin server. Evaluations begin with the first document event.
func (l *Linter) Start() error {
	cfg := l.currentConfig()

	w, err := watch.New(cfg.Watch, l.orch, l.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("start watcher: %w", err)
	}
	l.watcher = w

	if l.configPath != "" {
		cw, err := config.NewWatcher(l.configPath, l.logger)
		if err != nil {
			l.logger.Warn("config file watch unavailable", zap.Error(err))
		} else {
			cw.OnChange(func(next *config.Config) {
				if err := l.apply(next); err != nil {
					l.logger.Error("config reload failed", zap.Error(err))
				}
			})
			if err := cw.Start(); err != nil {
				l.logger.Warn("config file watch unavailable", zap.Error(err))
				cw.Stop()
			} else {
				l.cfgWatch = cw
			}
		}
	}

	if l.admin != nil {
		l.admin.Start()
	}

	l.logger.Info("speclint started",
		zap.String("version", l.version),
		zap.String("service", cfg.Service.URL),
		zap.String("organization", cfg.Service.Organization),
		zap.String("project", cfg.Service.Project),
		zap.Strings("watch", cfg.Watch.Paths),
	)
	return nil
}

// Run starts the linter and blocks handling signals. SIGHUP reloads the
// configuration; SIGINT and SIGTERM shut down gracefully.
func (l *Linter) Run() error {
	if err := l.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

	for sig := range quit {
		switch sig {
		case syscall.SIGHUP:
			if err := l.Reload(); err != nil {
				l.logger.Error("config reload failed", zap.Error(err))
			}
		default:
			l.logger.Info("shutting down", zap.String("signal", sig.String()))
			return l.Shutdown(shutdownTimeout)
		}
	}
	return nil
}

// Shutdown stops components in dependency order: admin traffic and
// filesystem triggers first, then in-flight evaluations, then the
// webhook workers.
func (l *Linter) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if l.admin != nil {
		if err := l.admin.Shutdown(ctx); err != nil {
			l.logger.Error("admin shutdown error", zap.Error(err))
		}
	}
	if l.cfgWatch != nil {
		l.cfgWatch.Stop()
	}
	if l.watcher != nil {
		if err := l.watcher.Close(); err != nil {
			l.logger.Error("watcher close error", zap.Error(err))
		}
	}
	l.orch.Close()
	if l.webhooks != nil {
		l.webhooks.Close()
	}

	l.logger.Info("shutdown complete")
	return nil
}

// Reload re-reads the config file and rebinds what can change without
// a restart: service and client settings, evaluation triggers,
// suppression rules and webhook endpoints. Watch paths, the admin port
// and sink enablement take effect on the next start.
func (l *Linter) Reload() error {
	if l.configPath == "" {
		return errors.New("no config file to reload")
	}
	cfg, err := config.NewLoader().Load(l.configPath)
	if err != nil {
		return err
	}
	return l.apply(cfg)
}

func (l *Linter) apply(cfg *config.Config) error {
	snap, err := l.buildSnapshot(cfg)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.client = snap.Client
	l.mu.Unlock()

	l.orch.UpdateConfig(snap)
	if l.webhooks != nil {
		l.webhooks.UpdateEndpoints(cfg.Sinks.Webhooks)
	}

	l.logger.Info("configuration reloaded",
		zap.String("service", cfg.Service.URL),
		zap.String("organization", cfg.Service.Organization),
		zap.String("project", cfg.Service.Project),
	)
	return nil
}

func (l *Linter) currentConfig() *config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Document events, for in-process front ends that drive the linter
// directly instead of through the filesystem watcher.

func (l *Linter) DocumentOpened(id, text string)  { l.orch.DocumentOpened(id, text) }
func (l *Linter) DocumentChanged(id, text string) { l.orch.DocumentChanged(id, text) }
func (l *Linter) DocumentSaved(id, text string)   { l.orch.DocumentSaved(id, text) }
func (l *Linter) DocumentClosed(id string)        { l.orch.DocumentClosed(id) }

// Lint evaluates text synchronously, publishing through the sinks.
func (l *Linter) Lint(ctx context.Context, id, text string) ([]diag.Diagnostic, error) {
	return l.orch.Lint(ctx, id, text)
}

// IgnoreRule registers a rule-scoped ignore and re-evaluates the
// document.
func (l *Linter) IgnoreRule(ctx context.Context, docID string, ruleID int, key diag.ViolationKey) (string, error) {
	return l.orch.IgnoreRule(ctx, docID, ruleID, key)
}

// IgnoreGlobally registers a project-wide ignore and re-evaluates the
// document.
func (l *Linter) IgnoreGlobally(ctx context.Context, docID string, key diag.ViolationKey) (string, error) {
	return l.orch.IgnoreGlobally(ctx, docID, key)
}

// Summary aggregates one-shot results across files.
type Summary struct {
	Files    int
	Errors   int
	Warnings int
	Infos    int
	Failed   int
}

// LintFiles evaluates each file once and prints findings to out in
// file:line:col form. Unreadable files abort with an error; evaluation
// failures are reported per file and counted in Failed.
func (l *Linter) LintFiles(ctx context.Context, paths []string, out io.Writer) (Summary, error) {
	var sum Summary
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return sum, fmt.Errorf("read %s: %w", path, err)
		}
		sum.Files++

		diags, err := l.orch.Lint(ctx, path, string(data))
		if err != nil {
			sum.Failed++
		}
		for _, d := range diags {
			switch d.Severity {
			case diag.SeverityError:
				sum.Errors++
			case diag.SeverityWarning:
				sum.Warnings++
			default:
				sum.Infos++
			}
			line := fmt.Sprintf("%s:%d:%d: %s: %s",
				path, d.Range.Start.Line+1, d.Range.Start.Column+1, d.Severity, d.Message)
			if d.Code != "" {
				line += " [" + d.Code + "]"
			}
			fmt.Fprintln(out, line)
		}
	}
	fmt.Fprintf(out, "%d files, %d errors, %d warnings\n", sum.Files, sum.Errors, sum.Warnings)
	return sum, nil
}

// ProcessStats is the aggregate served at the admin /stats endpoint.
type ProcessStats struct {
	Version   string             `json:"version"`
	Uptime    string             `json:"uptime"`
	Service   string             `json:"service"`
	Project   string             `json:"project"`
	Documents validator.Stats    `json:"documents"`
	Client    evaluation.Stats   `json:"client"`
	Cache     resultcache.Stats  `json:"cache"`
	Watcher   *watch.WatchStats  `json:"watcher,omitempty"`
	Webhooks  *sink.WebhookStats `json:"webhooks,omitempty"`
}

// Stats returns a point-in-time aggregate across components.
func (l *Linter) Stats() ProcessStats {
	l.mu.Lock()
	cfg, client := l.cfg, l.client
	l.mu.Unlock()

	st := ProcessStats{
		Version:   l.version,
		Uptime:    time.Since(l.started).Round(time.Second).String(),
		Service:   cfg.Service.URL,
		Project:   cfg.Service.Organization + "/" + cfg.Service.Project,
		Documents: l.orch.Stats(),
		Client:    client.Stats(),
		Cache:     l.cache.Stats(),
	}
	if l.watcher != nil {
		ws := l.watcher.Stats()
		st.Watcher = &ws
	}
	if l.webhooks != nil {
		hs := l.webhooks.Stats()
		st.Webhooks = &hs
	}
	return st
}
