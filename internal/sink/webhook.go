package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/diag"
	"go.uber.org/zap"
)

// EventType identifies a webhook event.
type EventType string

const (
	EventPublished EventType = "published"
	EventStarted   EventType = "started"
	EventFinished  EventType = "finished"
)

// Event is the JSON envelope posted to webhook endpoints.
type Event struct {
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	DocumentID  string            `json:"documentId"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
	Actions     []diag.Action     `json:"actions,omitempty"`
	Violations  int               `json:"violations,omitempty"`
	MaxSeverity string            `json:"maxSeverity,omitempty"`
}

const (
	defaultWorkers     = 2
	defaultQueueSize   = 256
	defaultTimeout     = 10 * time.Second
	deliveryRetries    = 3
	deliveryBackoff    = 500 * time.Millisecond
	deliveryMaxBackoff = 5 * time.Second
)

// WebhookSink posts events to configured HTTP endpoints. Events are
// queued and delivered asynchronously by a small worker pool; when the
// queue is full new events are dropped rather than blocking the caller.
type WebhookSink struct {
	mu        sync.RWMutex
	endpoints []config.WebhookConfig

	queue  chan *Event
	client *http.Client
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retryMax     int
	retryBackoff time.Duration
	retryCap     time.Duration

	emitted   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	retries   atomic.Int64
	failed    atomic.Int64
}

// NewWebhook starts the delivery workers. Close must be called to
// stop them.
func NewWebhook(endpoints []config.WebhookConfig, logger *zap.Logger) *WebhookSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebhookSink{
		endpoints:    endpoints,
		queue:        make(chan *Event, defaultQueueSize),
		client:       &http.Client{},
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		retryMax:     deliveryRetries,
		retryBackoff: deliveryBackoff,
		retryCap:     deliveryMaxBackoff,
	}
	for i := 0; i < defaultWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *WebhookSink) Publish(docID string, diags []diag.Diagnostic, actions []diag.Action) {
	s.emit(&Event{
		Type:        EventPublished,
		Timestamp:   time.Now().UTC(),
		DocumentID:  docID,
		Diagnostics: diags,
		Actions:     actions,
	})
}

func (s *WebhookSink) EvaluationStarted(docID string) {
	s.emit(&Event{
		Type:       EventStarted,
		Timestamp:  time.Now().UTC(),
		DocumentID: docID,
	})
}

func (s *WebhookSink) EvaluationFinished(docID string, violations int, max diag.Severity) {
	s.emit(&Event{
		Type:        EventFinished,
		Timestamp:   time.Now().UTC(),
		DocumentID:  docID,
		Violations:  violations,
		MaxSeverity: string(max),
	})
}

// UpdateEndpoints swaps the endpoint set, typically after a config
// reload. Queued events are delivered against the new set.
func (s *WebhookSink) UpdateEndpoints(endpoints []config.WebhookConfig) {
	s.mu.Lock()
	s.endpoints = endpoints
	s.mu.Unlock()
}

// Close stops the workers and waits for in-flight deliveries.
func (s *WebhookSink) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *WebhookSink) emit(event *Event) {
	s.emitted.Add(1)
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("webhook queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("document", event.DocumentID),
		)
	}
}

func (s *WebhookSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			s.dispatch(event)
		}
	}
}

func (s *WebhookSink) dispatch(event *Event) {
	s.mu.RLock()
	endpoints := s.endpoints
	s.mu.RUnlock()

	for _, ep := range endpoints {
		if !endpointWants(ep, event.Type) {
			continue
		}
		s.deliverWithRetry(ep, event)
	}
}

func (s *WebhookSink) deliverWithRetry(ep config.WebhookConfig, event *Event) {
	backoff := s.retryBackoff
	var err error
	for attempt := 0; attempt <= s.retryMax; attempt++ {
		if attempt > 0 {
			s.retries.Add(1)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.retryCap {
				backoff = s.retryCap
			}
		}
		if err = s.deliver(ep, event); err == nil {
			s.delivered.Add(1)
			return
		}
	}
	s.failed.Add(1)
	s.logger.Warn("webhook delivery failed",
		zap.String("url", ep.URL),
		zap.String("type", string(event.Type)),
		zap.String("document", event.DocumentID),
		zap.Error(err),
	)
}

func (s *WebhookSink) deliver(ep config.WebhookConfig, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Speclint-Event", string(event.Type))
	req.Header.Set("X-Speclint-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if ep.Secret != "" {
		req.Header.Set("X-Speclint-Signature", "sha256="+sign(ep.Secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func endpointWants(ep config.WebhookConfig, t EventType) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, pattern := range ep.Events {
		if pattern == "*" || pattern == string(t) {
			return true
		}
	}
	return false
}

// WebhookStats is a point-in-time snapshot of delivery counters.
type WebhookStats struct {
	Endpoints int   `json:"endpoints"`
	Queued    int   `json:"queued"`
	Emitted   int64 `json:"emitted"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Retries   int64 `json:"retries"`
	Failed    int64 `json:"failed"`
}

func (s *WebhookSink) Stats() WebhookStats {
	s.mu.RLock()
	endpoints := len(s.endpoints)
	s.mu.RUnlock()
	return WebhookStats{
		Endpoints: endpoints,
		Queued:    len(s.queue),
		Emitted:   s.emitted.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Retries:   s.retries.Load(),
		Failed:    s.failed.Load(),
	}
}
