// Package sink delivers published diagnostics to consumers. Sinks are
// fire-and-forget: delivery problems are logged, never propagated back
// into the evaluation pipeline.
package sink

import (
	"github.com/wudi/speclint/internal/diag"
	"go.uber.org/zap"
)

// Sink receives diagnostic lifecycle notifications for a document.
type Sink interface {
	Publish(docID string, diags []diag.Diagnostic, actions []diag.Action)
	EvaluationStarted(docID string)
	EvaluationFinished(docID string, violations int, max diag.Severity)
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Publish(docID string, diags []diag.Diagnostic, actions []diag.Action) {
	for _, s := range m {
		s.Publish(docID, diags, actions)
	}
}

func (m Multi) EvaluationStarted(docID string) {
	for _, s := range m {
		s.EvaluationStarted(docID)
	}
}

func (m Multi) EvaluationFinished(docID string, violations int, max diag.Severity) {
	for _, s := range m {
		s.EvaluationFinished(docID, violations, max)
	}
}

// LogSink writes diagnostics to the structured log: one line per
// publish, per-diagnostic detail at debug.
type LogSink struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(docID string, diags []diag.Diagnostic, actions []diag.Action) {
	s.logger.Info("diagnostics published",
		zap.String("document", docID),
		zap.Int("count", len(diags)),
	)
	for _, d := range diags {
		s.logger.Debug("diagnostic",
			zap.String("document", docID),
			zap.String("severity", string(d.Severity)),
			zap.String("code", d.Code),
			zap.Int("line", d.Range.Start.Line),
			zap.Int("column", d.Range.Start.Column),
			zap.String("message", d.Message),
		)
	}
}

func (s *LogSink) EvaluationStarted(docID string) {
	s.logger.Debug("evaluation started", zap.String("document", docID))
}

func (s *LogSink) EvaluationFinished(docID string, violations int, max diag.Severity) {
	s.logger.Info("evaluation finished",
		zap.String("document", docID),
		zap.Int("violations", violations),
		zap.String("max_severity", string(max)),
	)
}
