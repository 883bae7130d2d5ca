// Package speclint embeds the OpenAPI remote linter in other Go
// programs. Editor front ends build a Linter with OnPublish and drive
// document events directly; daemon embedders call Run and let the
// filesystem watcher feed the same pipeline.
package speclint

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/diag"
	"github.com/wudi/speclint/internal/linter"
)

// Config is the top-level linter configuration.
type Config = config.Config

// Diagnostic is one published finding with its text range.
type Diagnostic = diag.Diagnostic

// Action pairs a diagnostic with the rule/key an ignore request needs.
type Action = diag.Action

// ViolationKey identifies the spec element a violation points at.
type ViolationKey = diag.ViolationKey

// Severity is a diagnostic severity level.
type Severity = diag.Severity

// Severity levels, highest last.
const (
	SeverityInfo    = diag.SeverityInfo
	SeverityWarning = diag.SeverityWarning
	SeverityError   = diag.SeverityError
)

// Stats is the aggregate snapshot across components.
type Stats = linter.ProcessStats

// Summary aggregates one-shot lint results.
type Summary = linter.Summary

// LoadConfig loads and validates a configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	return config.NewLoader().Load(path)
}

// ParseConfig parses and validates a configuration from YAML bytes.
func ParseConfig(data []byte) (*Config, error) {
	return config.NewLoader().Parse(data)
}

// PublishFunc receives each published result for a document. It is
// called from evaluation goroutines and must not block.
type PublishFunc func(docID string, diags []Diagnostic, actions []Action)

// Builder assembles a Linter.
type Builder struct {
	cfg        *Config
	configPath string
	version    string
	logger     *zap.Logger
	publish    []PublishFunc
}

// New creates a Builder for the given configuration.
func New(cfg *Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithConfigPath sets the YAML config file path, enabling reloads.
func (b *Builder) WithConfigPath(path string) *Builder {
	b.configPath = path
	return b
}

// WithVersion sets the version string reported by Stats and /health.
func (b *Builder) WithVersion(v string) *Builder {
	b.version = v
	return b
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// OnPublish registers a callback receiving published diagnostics in
// addition to the configured sinks.
func (b *Builder) OnPublish(fn PublishFunc) *Builder {
	b.publish = append(b.publish, fn)
	return b
}

// Build constructs a ready Linter.
func (b *Builder) Build() (*Linter, error) {
	opts := linter.Options{
		ConfigPath: b.configPath,
		Version:    b.version,
		Logger:     b.logger,
	}
	for _, fn := range b.publish {
		opts.ExtraSinks = append(opts.ExtraSinks, callbackSink{fn: fn})
	}
	inner, err := linter.New(b.cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Linter{internal: inner}, nil
}

// Linter wraps the internal linter with a public API.
type Linter struct {
	internal *linter.Linter
}

// Run starts the watcher and admin endpoint and blocks until a
// shutdown signal.
func (l *Linter) Run() error {
	return l.internal.Run()
}

// Start starts the watcher and admin endpoint without blocking.
func (l *Linter) Start() error {
	return l.internal.Start()
}

// Shutdown gracefully stops the linter.
func (l *Linter) Shutdown(timeout time.Duration) error {
	return l.internal.Shutdown(timeout)
}

// Reload re-reads the config file and rebinds the evaluation snapshot.
func (l *Linter) Reload() error {
	return l.internal.Reload()
}

// Stats returns a point-in-time aggregate across components.
func (l *Linter) Stats() Stats {
	return l.internal.Stats()
}

// LintFiles evaluates files once, printing findings to out.
func (l *Linter) LintFiles(ctx context.Context, paths []string, out io.Writer) (Summary, error) {
	return l.internal.LintFiles(ctx, paths, out)
}

// Lint evaluates text synchronously and returns its diagnostics.
func (l *Linter) Lint(ctx context.Context, id, text string) ([]Diagnostic, error) {
	return l.internal.Lint(ctx, id, text)
}

// DocumentOpened evaluates the document immediately.
func (l *Linter) DocumentOpened(id, text string) {
	l.internal.DocumentOpened(id, text)
}

// DocumentChanged records the latest text; evaluation is debounced and
// only runs when on_type is enabled.
func (l *Linter) DocumentChanged(id, text string) {
	l.internal.DocumentChanged(id, text)
}

// DocumentSaved evaluates the document immediately, skipping any
// pending debounce.
func (l *Linter) DocumentSaved(id, text string) {
	l.internal.DocumentSaved(id, text)
}

// DocumentClosed discards the document's state and publishes an empty
// result so stale findings clear.
func (l *Linter) DocumentClosed(id string) {
	l.internal.DocumentClosed(id)
}

// IgnoreRule asks the service to ignore ruleID at key, then
// re-evaluates the document.
func (l *Linter) IgnoreRule(ctx context.Context, docID string, ruleID int, key ViolationKey) (string, error) {
	return l.internal.IgnoreRule(ctx, docID, ruleID, key)
}

// IgnoreGlobally asks the service to ignore every rule at key, then
// re-evaluates the document.
func (l *Linter) IgnoreGlobally(ctx context.Context, docID string, key ViolationKey) (string, error) {
	return l.internal.IgnoreGlobally(ctx, docID, key)
}

// callbackSink adapts a PublishFunc to the sink interface.
type callbackSink struct {
	fn PublishFunc
}

func (s callbackSink) Publish(docID string, diags []diag.Diagnostic, actions []diag.Action) {
	s.fn(docID, diags, actions)
}

func (s callbackSink) EvaluationStarted(string) {}

func (s callbackSink) EvaluationFinished(string, int, diag.Severity) {}
