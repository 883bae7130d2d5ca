// Package validator orchestrates per-document evaluation scheduling:
// debounced triggers, one evaluation in flight per document, cached
// results, and publication of localized diagnostics to the sinks.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wudi/speclint/internal/diag"
	"github.com/wudi/speclint/internal/document"
	"github.com/wudi/speclint/internal/evaluation"
	"github.com/wudi/speclint/internal/fingerprint"
	"github.com/wudi/speclint/internal/locate"
	"github.com/wudi/speclint/internal/metrics"
	"github.com/wudi/speclint/internal/resultcache"
	"github.com/wudi/speclint/internal/sink"
	"github.com/wudi/speclint/internal/suppress"
)

// Snapshot binds the pieces an evaluation uses. It is treated as
// immutable: configuration updates swap the whole snapshot rather than
// mutating it, so in-flight evaluations keep the binding they started
// with.
type Snapshot struct {
	Client      *evaluation.Client
	Filter      *suppress.Filter
	OnSave      bool
	OnType      bool
	Debounce    time.Duration
	IncludeInfo bool
}

// Deps are the shared collaborators of an Orchestrator. Nil fields get
// working defaults.
type Deps struct {
	Cache    *resultcache.Cache
	Resolver *locate.Resolver
	Sink     sink.Sink
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

type phase int

const (
	phaseIdle phase = iota
	phaseScheduled
	phaseEvaluating
)

// docState tracks one open document. gen guards the debounce timer: a
// fire whose generation no longer matches was superseded and does
// nothing.
type docState struct {
	phase    phase
	text     string
	timer    *time.Timer
	gen      uint64
	followUp bool
}

// Orchestrator runs the per-document evaluation state machine
// (Idle, Scheduled, Evaluating). At most one evaluation is in flight
// per document, and a result is published only while the document
// still holds the text that was evaluated.
type Orchestrator struct {
	mu   sync.Mutex
	snap Snapshot
	docs map[string]*docState

	cache    *resultcache.Cache
	resolver *locate.Resolver
	sink     sink.Sink
	metrics  *metrics.Collector
	logger   *zap.Logger

	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	published atomic.Int64
	discarded atomic.Int64
}

const defaultDebounce = time.Second

// New creates an Orchestrator bound to an initial snapshot.
func New(snap Snapshot, deps Deps) *Orchestrator {
	if snap.Debounce <= 0 {
		snap.Debounce = defaultDebounce
	}
	if deps.Cache == nil {
		deps.Cache = resultcache.New(0, 0)
	}
	if deps.Resolver == nil {
		deps.Resolver = locate.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sink == nil {
		deps.Sink = sink.NewLog(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		snap:     snap,
		docs:     make(map[string]*docState),
		cache:    deps.Cache,
		resolver: deps.Resolver,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// UpdateConfig rebinds the snapshot and clears the result cache.
// In-flight evaluations finish under the snapshot they started with.
func (o *Orchestrator) UpdateConfig(snap Snapshot) {
	if snap.Debounce <= 0 {
		snap.Debounce = defaultDebounce
	}
	o.mu.Lock()
	o.snap = snap
	o.mu.Unlock()
	o.cache.Clear()
	o.logger.Info("configuration rebound, result cache cleared")
}

// Close stops all timers and waits for in-flight evaluations. No new
// evaluation starts afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for _, doc := range o.docs {
		doc.gen++
		stopTimer(doc)
	}
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// DocumentOpened evaluates the document immediately.
func (o *Orchestrator) DocumentOpened(id, text string) {
	o.trigger(id, text)
}

// DocumentSaved evaluates the document immediately, skipping any
// pending debounce. While an evaluation is already in flight, exactly
// one follow-up with the latest text is queued behind it.
func (o *Orchestrator) DocumentSaved(id, text string) {
	o.trigger(id, text)
}

func (o *Orchestrator) trigger(id, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.ensure(id)
	doc.text = text
	doc.gen++
	stopTimer(doc)
	if doc.phase == phaseEvaluating {
		doc.followUp = true
		return
	}
	o.begin(id)
}

// DocumentChanged restarts the document's debounce timer when
// type-driven evaluation is enabled. The latest text is always
// recorded so results from superseded content are discarded, but a
// change arriving during an evaluation schedules nothing.
func (o *Orchestrator) DocumentChanged(id, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.ensure(id)
	doc.text = text
	doc.gen++
	stopTimer(doc)
	if !o.snap.OnType || doc.phase == phaseEvaluating {
		if doc.phase == phaseScheduled {
			doc.phase = phaseIdle
		}
		return
	}
	doc.phase = phaseScheduled
	gen := doc.gen
	doc.timer = time.AfterFunc(o.snap.Debounce, func() {
		o.fire(id, gen)
	})
}

func (o *Orchestrator) fire(id string, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.docs[id]
	if doc == nil || doc.gen != gen || doc.phase != phaseScheduled {
		return
	}
	doc.timer = nil
	o.begin(id)
}

// DocumentClosed drops the document's state, cancels any pending timer
// and publishes an empty diagnostic set.
func (o *Orchestrator) DocumentClosed(id string) {
	o.mu.Lock()
	doc := o.docs[id]
	if doc == nil {
		o.mu.Unlock()
		return
	}
	doc.gen++
	stopTimer(doc)
	delete(o.docs, id)
	o.metrics.SetDocumentsTracked(len(o.docs))
	o.mu.Unlock()
	o.sink.Publish(id, nil, nil)
}

// IgnoreRule registers a rule-scoped ignore with the service, then
// invalidates the document's cached result and re-evaluates so the
// ignored violations disappear from the next publish.
func (o *Orchestrator) IgnoreRule(ctx context.Context, docID string, ruleID int, key diag.ViolationKey) (string, error) {
	o.mu.Lock()
	snap := o.snap
	o.mu.Unlock()
	id, err := snap.Client.AddRuleIgnore(ctx, ruleID, key)
	if err != nil {
		return "", err
	}
	o.metrics.RecordIgnore("rule")
	o.refresh(docID)
	return id, nil
}

// IgnoreGlobally registers a project-wide ignore with the service, then
// invalidates the document's cached result and re-evaluates.
func (o *Orchestrator) IgnoreGlobally(ctx context.Context, docID string, key diag.ViolationKey) (string, error) {
	o.mu.Lock()
	snap := o.snap
	o.mu.Unlock()
	id, err := snap.Client.AddGlobalIgnore(ctx, key)
	if err != nil {
		return "", err
	}
	o.metrics.RecordIgnore("global")
	o.refresh(docID)
	return id, nil
}

func (o *Orchestrator) refresh(docID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.docs[docID]
	if doc == nil {
		return
	}
	o.cache.Delete(doc.text)
	doc.gen++
	stopTimer(doc)
	if doc.phase == phaseEvaluating {
		doc.followUp = true
		return
	}
	o.begin(docID)
}

// Lint evaluates text synchronously, outside the per-document state
// machine. Results still flow through the cache and the sinks. The
// returned error reports an evaluation failure; the diagnostic slice
// then carries the corresponding message.
func (o *Orchestrator) Lint(ctx context.Context, id, text string) ([]diag.Diagnostic, error) {
	o.mu.Lock()
	snap := o.snap
	o.mu.Unlock()
	diags, _, err := o.evaluateText(ctx, id, text, snap)
	o.published.Add(1)
	o.sink.Publish(id, diags, nil)
	return diags, err
}

// Stats is a point-in-time view of scheduling counters.
type Stats struct {
	Documents  int   `json:"documents"`
	Scheduled  int   `json:"scheduled"`
	Evaluating int   `json:"evaluating"`
	Published  int64 `json:"published"`
	Discarded  int64 `json:"discarded"`
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Stats{
		Documents: len(o.docs),
		Published: o.published.Load(),
		Discarded: o.discarded.Load(),
	}
	for _, doc := range o.docs {
		switch doc.phase {
		case phaseScheduled:
			st.Scheduled++
		case phaseEvaluating:
			st.Evaluating++
		}
	}
	return st
}

// ensure returns the state for id, creating it on first sight.
// Callers hold o.mu.
func (o *Orchestrator) ensure(id string) *docState {
	doc := o.docs[id]
	if doc == nil {
		doc = &docState{}
		o.docs[id] = doc
		o.metrics.SetDocumentsTracked(len(o.docs))
	}
	return doc
}

// begin transitions to Evaluating and launches the evaluation
// goroutine. Callers hold o.mu.
func (o *Orchestrator) begin(id string) {
	if o.closed {
		return
	}
	doc := o.docs[id]
	doc.phase = phaseEvaluating
	doc.gen++
	stopTimer(doc)
	text := doc.text
	snap := o.snap
	o.wg.Add(1)
	go o.run(id, text, snap)
}

func (o *Orchestrator) run(id, text string, snap Snapshot) {
	defer o.wg.Done()
	diags, actions, _ := o.evaluateText(o.ctx, id, text, snap)
	o.deliver(id, text, diags, actions)
	o.finish(id)
}

// deliver publishes a completed evaluation unless the document was
// closed or its content moved on while the evaluation ran. Nothing
// reaches the sinks after Close; a run cut short by the shutdown
// cancellation counts as discarded.
func (o *Orchestrator) deliver(id, evaluated string, diags []diag.Diagnostic, actions []diag.Action) {
	o.mu.Lock()
	doc := o.docs[id]
	if doc == nil {
		o.mu.Unlock()
		return
	}
	if o.closed {
		o.mu.Unlock()
		o.discarded.Add(1)
		o.logger.Debug("discarding result after close", zap.String("document", id))
		return
	}
	if doc.text != evaluated {
		o.mu.Unlock()
		o.discarded.Add(1)
		o.logger.Debug("discarding result for superseded content", zap.String("document", id))
		return
	}
	o.mu.Unlock()
	o.published.Add(1)
	o.sink.Publish(id, diags, actions)
}

func (o *Orchestrator) finish(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.docs[id]
	if doc == nil {
		return
	}
	doc.phase = phaseIdle
	if doc.followUp {
		doc.followUp = false
		o.begin(id)
	}
}

// evaluateText runs the full pipeline for one text: cache lookup,
// document sniff, remote evaluation, localization, suppression and
// severity filtering. Identical content evaluating concurrently is
// coalesced into a single service round trip.
func (o *Orchestrator) evaluateText(ctx context.Context, id, text string, snap Snapshot) ([]diag.Diagnostic, []diag.Action, error) {
	if diags, actions, ok := o.cache.Get(text); ok {
		o.metrics.RecordCacheHit()
		o.logger.Debug("serving cached result",
			zap.String("document", id),
			zap.Int("diagnostics", len(diags)),
		)
		return diags, actions, nil
	}
	o.metrics.RecordCacheMiss()

	kind := document.Sniff([]byte(text))
	if !kind.IsOpenAPI() {
		o.logger.Debug("not an OpenAPI document", zap.String("document", id))
		return nil, nil, nil
	}
	payload, err := document.ToServiceJSON([]byte(text))
	if err != nil {
		o.logger.Debug("document does not parse, skipping evaluation",
			zap.String("document", id),
			zap.Error(err),
		)
		return nil, nil, nil
	}

	o.sink.EvaluationStarted(id)
	start := time.Now()
	fp := fingerprint.Hash(payload)
	v, err, _ := o.flight.Do(fp, func() (any, error) {
		return snap.Client.Evaluate(ctx, payload)
	})
	elapsed := time.Since(start)

	var res *evaluation.Result
	if v != nil {
		res = v.(*evaluation.Result)
	}
	o.metrics.RecordEvaluation(outcomeFor(res, err), elapsed)
	st := snap.Client.Stats()
	o.metrics.SetClientCounters(st.Uploads, st.Polls, st.Retries)
	o.metrics.SetBreakerState(st.Breaker.State)

	if err != nil {
		d := errorDiagnostic(err, text)
		o.logger.Warn("evaluation failed",
			zap.String("document", id),
			zap.Error(err),
		)
		o.sink.EvaluationFinished(id, 0, d.Severity)
		return []diag.Diagnostic{d}, nil, err
	}

	diags, actions, suppressed := o.buildDiagnostics(res, text, snap)
	o.metrics.RecordSuppressed(suppressed)
	counts := make(map[diag.Severity]int)
	for _, d := range diags {
		counts[d.Severity]++
	}
	for severity, n := range counts {
		o.metrics.RecordDiagnostics(string(severity), n)
	}
	o.cache.Set(text, diags, actions)

	if res.Degraded {
		o.logger.Debug("evaluation degraded",
			zap.String("document", id),
			zap.String("status", string(res.Status)),
		)
	}
	o.sink.EvaluationFinished(id, len(diags), maxDiagSeverity(diags))
	o.logger.Info("evaluation complete",
		zap.String("document", id),
		zap.String("spec_id", res.SpecID),
		zap.Int("diagnostics", len(diags)),
		zap.Int("suppressed", suppressed),
		zap.Duration("elapsed", elapsed),
	)
	return diags, actions, nil
}

// buildDiagnostics localizes, filters and converts a result's violation
// groups. Actions pair with diagnostics positionally, so once a
// violation arrives without a usable rule id the action list stops
// growing and stays a pairable prefix.
func (o *Orchestrator) buildDiagnostics(res *evaluation.Result, text string, snap Snapshot) ([]diag.Diagnostic, []diag.Action, int) {
	var diags []diag.Diagnostic
	var actions []diag.Action
	suppressed := 0
	pairable := true
	for _, group := range res.Groups {
		for _, v := range group.Violations {
			if snap.Filter.Match(v, group.Key.Path) {
				suppressed++
				continue
			}
			if v.Severity == diag.SeverityInfo && !snap.IncludeInfo {
				continue
			}
			diags = append(diags, diag.Diagnostic{
				Range:    o.resolver.Resolve(group.Key, text, v.Message),
				Severity: v.Severity,
				Message:  v.Message,
				Code:     v.RuleSlug,
				Source:   diag.SourceName,
			})
			switch {
			case !pairable:
			case v.RuleID > 0:
				actions = append(actions, diag.Action{RuleID: v.RuleID, Key: group.Key})
			default:
				pairable = false
				o.logger.Debug("truncating action metadata at violation without rule id",
					zap.Int("paired", len(actions)),
				)
			}
		}
	}
	return diags, actions, suppressed
}

// errorDiagnostic converts an evaluation failure into the single
// diagnostic surfaced at the document's default range. Missing
// configuration is informational; everything else is a warning.
func errorDiagnostic(err error, text string) diag.Diagnostic {
	severity := diag.SeverityWarning
	var msg string

	var cfgErr *evaluation.ConfigError
	var apiErr *evaluation.APIError
	var evalErr *evaluation.EvaluationError
	var toErr *evaluation.TimeoutError
	var tpErr *evaluation.TransportError
	switch {
	case errors.Is(err, evaluation.ErrBreakerOpen):
		severity = diag.SeverityInfo
		msg = "remote evaluation suspended after repeated service failures"
	case errors.As(err, &cfgErr):
		severity = diag.SeverityInfo
		msg = "remote evaluation is not configured: " + cfgErr.Reason
	case errors.As(err, &apiErr):
		msg = apiMessage(apiErr)
	case errors.As(err, &evalErr):
		msg = "the service could not evaluate this document: " + evalErr.Message
	case errors.As(err, &toErr):
		msg = fmt.Sprintf("evaluation did not complete after %d status polls", toErr.Attempts)
	case errors.As(err, &tpErr):
		msg = "the evaluation service is unreachable"
	default:
		msg = "evaluation failed: " + err.Error()
	}

	return diag.Diagnostic{
		Range:    locate.DefaultRange(text),
		Severity: severity,
		Message:  msg,
		Source:   diag.SourceName,
	}
}

func apiMessage(err *evaluation.APIError) string {
	switch err.Kind {
	case evaluation.KindAuth:
		return "authentication with the evaluation service failed, check your access token"
	case evaluation.KindBilling:
		return "the evaluation service reported a plan limit, check your subscription"
	case evaluation.KindForbidden:
		return "access to this project is forbidden"
	case evaluation.KindNotFound:
		return "organization or project not found on the evaluation service"
	case evaluation.KindPayloadTooLarge:
		return "this document is too large for remote evaluation"
	case evaluation.KindRateLimited:
		return "rate limited by the evaluation service, try again shortly"
	default:
		if err.Message != "" {
			return fmt.Sprintf("the evaluation service returned an error: %s", err.Message)
		}
		return fmt.Sprintf("the evaluation service returned status %d", err.Status)
	}
}

func outcomeFor(res *evaluation.Result, err error) string {
	if err == nil {
		if res != nil && res.Degraded {
			return metrics.OutcomeDegraded
		}
		return metrics.OutcomeSuccess
	}
	var cfgErr *evaluation.ConfigError
	var apiErr *evaluation.APIError
	var evalErr *evaluation.EvaluationError
	var toErr *evaluation.TimeoutError
	switch {
	case errors.Is(err, evaluation.ErrBreakerOpen):
		return metrics.OutcomeBreakerOpen
	case errors.As(err, &cfgErr):
		return metrics.OutcomeConfigError
	case errors.As(err, &toErr):
		return metrics.OutcomeTimeout
	case errors.As(err, &evalErr):
		return metrics.OutcomeEvaluationError
	case errors.As(err, &apiErr):
		return metrics.OutcomeAPIError
	default:
		return metrics.OutcomeTransportError
	}
}

func maxDiagSeverity(diags []diag.Diagnostic) diag.Severity {
	var max diag.Severity
	for _, d := range diags {
		if d.Severity.Rank() > max.Rank() {
			max = d.Severity
		}
	}
	return max
}

func stopTimer(doc *docState) {
	if doc.timer != nil {
		doc.timer.Stop()
		doc.timer = nil
	}
}
