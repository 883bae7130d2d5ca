// Package metrics tracks evaluation counters for the admin endpoints,
// exported as JSON and in Prometheus text exposition format.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Evaluation outcomes recorded against speclint_evaluations_total.
const (
	OutcomeSuccess         = "success"
	OutcomeDegraded        = "degraded"
	OutcomeAPIError        = "api_error"
	OutcomeTransportError  = "transport_error"
	OutcomeTimeout         = "timeout"
	OutcomeBreakerOpen     = "breaker_open"
	OutcomeEvaluationError = "evaluation_error"
	OutcomeConfigError     = "config_error"
)

// Collector tracks linter metrics for Prometheus-compatible export.
type Collector struct {
	mu sync.RWMutex

	// Evaluation metrics
	evaluations map[string]int64 // key: outcome
	durations   *HistogramData

	// Cache metrics
	cacheHits   int64
	cacheMisses int64

	// Published output
	diagnostics map[string]int64 // key: severity
	suppressed  int64
	ignores     map[string]int64 // key: scope

	// Mirrored evaluation client counters
	clientUploads int64
	clientPolls   int64
	clientRetries int64

	// Circuit breaker state: 0=closed, 1=open, 2=half_open
	breakerState int

	documents int
}

// HistogramData stores histogram-like data for durations.
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are histogram buckets in seconds, sized for remote
// evaluations that include at least one poll interval.
var DefaultBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0, 60.0}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		evaluations: make(map[string]int64),
		diagnostics: make(map[string]int64),
		ignores:     make(map[string]int64),
	}
}

// RecordEvaluation records a finished evaluation attempt.
func (c *Collector) RecordEvaluation(outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evaluations[outcome]++

	if c.durations == nil {
		c.durations = &HistogramData{Buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			c.durations.Buckets[b] = 0
		}
	}
	secs := duration.Seconds()
	c.durations.Count++
	c.durations.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			c.durations.Buckets[bound]++
		}
	}
}

// RecordCacheHit records a result cache hit.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// RecordCacheMiss records a result cache miss.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// RecordDiagnostics records n published diagnostics of one severity.
func (c *Collector) RecordDiagnostics(severity string, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.diagnostics[severity] += int64(n)
	c.mu.Unlock()
}

// RecordSuppressed records violations dropped by suppression rules.
func (c *Collector) RecordSuppressed(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.suppressed += int64(n)
	c.mu.Unlock()
}

// RecordIgnore records an accepted ignore request. Scope is "rule" or
// "global".
func (c *Collector) RecordIgnore(scope string) {
	c.mu.Lock()
	c.ignores[scope]++
	c.mu.Unlock()
}

// SetClientCounters mirrors the evaluation client's cumulative request
// counters into the exposition.
func (c *Collector) SetClientCounters(uploads, polls, retries int64) {
	c.mu.Lock()
	c.clientUploads = uploads
	c.clientPolls = polls
	c.clientRetries = retries
	c.mu.Unlock()
}

// SetBreakerState sets the circuit breaker state gauge.
func (c *Collector) SetBreakerState(state string) {
	v := 0
	switch state {
	case "open":
		v = 1
	case "half_open":
		v = 2
	}
	c.mu.Lock()
	c.breakerState = v
	c.mu.Unlock()
}

// SetDocumentsTracked sets the tracked document gauge.
func (c *Collector) SetDocumentsTracked(n int) {
	c.mu.Lock()
	c.documents = n
	c.mu.Unlock()
}

// MetricsSnapshot holds a snapshot of all metrics.
type MetricsSnapshot struct {
	Evaluations  map[string]int64   `json:"evaluations"`
	Duration     *HistogramSnapshot `json:"evaluation_duration,omitempty"`
	CacheHits    int64              `json:"cache_hits"`
	CacheMisses  int64              `json:"cache_misses"`
	Diagnostics  map[string]int64   `json:"diagnostics"`
	Suppressed   int64              `json:"suppressed"`
	Ignores      map[string]int64   `json:"ignores"`
	BreakerState int                `json:"breaker_state"`
	Documents    int                `json:"documents"`
}

// HistogramSnapshot is a snapshot of histogram data.
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &MetricsSnapshot{
		Evaluations:  make(map[string]int64),
		Diagnostics:  make(map[string]int64),
		Ignores:      make(map[string]int64),
		CacheHits:    c.cacheHits,
		CacheMisses:  c.cacheMisses,
		Suppressed:   c.suppressed,
		BreakerState: c.breakerState,
		Documents:    c.documents,
	}
	for k, v := range c.evaluations {
		snap.Evaluations[k] = v
	}
	for k, v := range c.diagnostics {
		snap.Diagnostics[k] = v
	}
	for k, v := range c.ignores {
		snap.Ignores[k] = v
	}
	if c.durations != nil {
		hs := &HistogramSnapshot{
			Count:   c.durations.Count,
			Sum:     c.durations.Sum,
			Buckets: make(map[float64]int64),
		}
		for b, cnt := range c.durations.Buckets {
			hs.Buckets[b] = cnt
		}
		snap.Duration = hs
	}
	return snap
}

// WritePrometheus writes metrics in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "speclint_evaluations_total", "Total evaluations by outcome", "counter")
	for outcome, count := range c.evaluations {
		writeMetric(w, "speclint_evaluations_total", count, "outcome", outcome)
	}

	writeHelp(w, "speclint_evaluation_duration_seconds", "Evaluation duration in seconds", "histogram")
	if hd := c.durations; hd != nil {
		for _, bound := range DefaultBuckets {
			writeMetricFloat(w, "speclint_evaluation_duration_seconds_bucket", float64(hd.Buckets[bound]),
				"le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "speclint_evaluation_duration_seconds_bucket", float64(hd.Count), "le", "+Inf")
		writeMetricFloat(w, "speclint_evaluation_duration_seconds_sum", hd.Sum)
		writeMetric(w, "speclint_evaluation_duration_seconds_count", hd.Count)
	}

	writeHelp(w, "speclint_cache_hits_total", "Total result cache hits", "counter")
	writeMetric(w, "speclint_cache_hits_total", c.cacheHits)

	writeHelp(w, "speclint_cache_misses_total", "Total result cache misses", "counter")
	writeMetric(w, "speclint_cache_misses_total", c.cacheMisses)

	writeHelp(w, "speclint_diagnostics_published_total", "Total published diagnostics by severity", "counter")
	for severity, count := range c.diagnostics {
		writeMetric(w, "speclint_diagnostics_published_total", count, "severity", severity)
	}

	writeHelp(w, "speclint_violations_suppressed_total", "Total violations dropped by suppression rules", "counter")
	writeMetric(w, "speclint_violations_suppressed_total", c.suppressed)

	writeHelp(w, "speclint_ignores_total", "Total accepted ignore requests by scope", "counter")
	for scope, count := range c.ignores {
		writeMetric(w, "speclint_ignores_total", count, "scope", scope)
	}

	writeHelp(w, "speclint_client_uploads_total", "Total specification uploads", "counter")
	writeMetric(w, "speclint_client_uploads_total", c.clientUploads)

	writeHelp(w, "speclint_client_polls_total", "Total evaluation poll requests", "counter")
	writeMetric(w, "speclint_client_polls_total", c.clientPolls)

	writeHelp(w, "speclint_client_retries_total", "Total retried service requests", "counter")
	writeMetric(w, "speclint_client_retries_total", c.clientRetries)

	writeHelp(w, "speclint_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half_open)", "gauge")
	writeMetric(w, "speclint_breaker_state", int64(c.breakerState))

	writeHelp(w, "speclint_documents_tracked", "Documents currently tracked", "gauge")
	writeMetric(w, "speclint_documents_tracked", int64(c.documents))
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(labels[i])
		b.WriteString(`="`)
		b.WriteString(labels[i+1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
