// Package evaluation talks to the remote API-governance service: it
// uploads specification documents, polls evaluation status, and turns
// service responses into violation groups or classified errors.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/wudi/speclint/config"
	"github.com/wudi/speclint/internal/credentials"
	"github.com/wudi/speclint/internal/diag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Status is the lifecycle state of a submitted specification.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusPartial Status = "partial"
	StatusStale   Status = "stale"
	StatusError   Status = "error"
)

// Terminal reports whether the status ends the poll loop.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusPartial || s == StatusStale || s == StatusError
}

// Result is a completed evaluation. Degraded marks partial/stale
// completeness; violations are still usable.
type Result struct {
	SpecID   string
	Status   Status
	Degraded bool
	Groups   []diag.Group
}

// Options configures a Client. Zero fields fall back to the documented
// defaults.
type Options struct {
	ServiceURL      string
	Organization    string
	Project         string
	Tag             string
	Tokens          credentials.TokenSource
	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	RateLimit       float64
	RateBurst       int
	Breaker         config.BreakerConfig
	Logger          *zap.Logger
}

// OptionsFromConfig assembles client options from the configuration
// tree and a token source.
func OptionsFromConfig(cfg *config.Config, tokens credentials.TokenSource, logger *zap.Logger) Options {
	return Options{
		ServiceURL:      cfg.Service.URL,
		Organization:    cfg.Service.Organization,
		Project:         cfg.Service.Project,
		Tag:             cfg.Service.Tag,
		Tokens:          tokens,
		Timeout:         cfg.Client.Timeout,
		MaxRetries:      cfg.Client.MaxRetries,
		InitialBackoff:  cfg.Client.InitialBackoff,
		MaxBackoff:      cfg.Client.MaxBackoff,
		PollInterval:    cfg.Client.PollInterval,
		PollMaxAttempts: cfg.Client.PollMaxAttempts,
		RateLimit:       cfg.Client.RateLimit,
		RateBurst:       cfg.Client.RateBurst,
		Breaker:         cfg.Client.Breaker,
		Logger:          logger,
	}
}

// Client evaluates specification documents against the remote service.
type Client struct {
	baseURL      string
	organization string
	project      string
	tag          string
	tokens       credentials.TokenSource

	httpClient      *http.Client
	timeout         time.Duration
	maxRetries      int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	pollInterval    time.Duration
	pollMaxAttempts int
	limiter         *rate.Limiter
	breaker         *breaker
	logger          *zap.Logger

	uploads           atomic.Int64
	polls             atomic.Int64
	retries           atomic.Int64
	completed         atomic.Int64
	ignores           atomic.Int64
	apiFailures       atomic.Int64
	transportFailures atomic.Int64
	timeouts          atomic.Int64
}

// New creates an evaluation client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = 30
	}
	if opts.Tag == "" {
		opts.Tag = "session-" + uuid.New().String()[:8]
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.ServiceURL, "/"),
		organization:    opts.Organization,
		project:         opts.Project,
		tag:             opts.Tag,
		tokens:          opts.Tokens,
		httpClient:      &http.Client{},
		timeout:         opts.Timeout,
		maxRetries:      opts.MaxRetries,
		initialBackoff:  opts.InitialBackoff,
		maxBackoff:      opts.MaxBackoff,
		pollInterval:    opts.PollInterval,
		pollMaxAttempts: opts.PollMaxAttempts,
		limiter:         limiter,
		breaker:         newBreaker(opts.Breaker),
		logger:          opts.Logger,
	}
}

// Tag returns the upload tag for this session.
func (c *Client) Tag() string {
	return c.tag
}

type uploadRequest struct {
	Spec json.RawMessage `json:"spec"`
	Tag  string          `json:"tag"`
}

type uploadResponse struct {
	Specification struct {
		ID string `json:"id"`
	} `json:"specification"`
}

type wireViolation struct {
	RuleID   int    `json:"ruleId"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

type wireGroup struct {
	Key        diag.ViolationKey `json:"key"`
	Violations []wireViolation   `json:"violations"`
}

type pollResponse struct {
	Evaluation struct {
		Status   string `json:"status"`
		SpecID   string `json:"specId"`
		Message  string `json:"message,omitempty"`
		Category string `json:"category,omitempty"`
	} `json:"evaluation"`
	Violations   []wireGroup       `json:"violations,omitempty"`
	RuleIDToSlug map[string]string `json:"ruleIdToSlug,omitempty"`
}

type ignoreRequest struct {
	ViolationKey diag.ViolationKey `json:"violationKey"`
}

type ignoreResponse struct {
	ID string `json:"id"`
}

// Evaluate uploads the specification JSON and polls until the
// evaluation reaches a terminal status. The returned error is one of
// the classified types in this package.
func (c *Client) Evaluate(ctx context.Context, specJSON []byte) (*Result, error) {
	if err := c.contextError(); err != nil {
		return nil, err
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, ErrBreakerOpen
	}

	res, err := c.evaluate(ctx, specJSON)
	c.recordOutcome(err)
	if err != nil {
		c.countFailure(err)
		return nil, err
	}
	c.completed.Add(1)
	return res, nil
}

func (c *Client) evaluate(ctx context.Context, specJSON []byte) (*Result, error) {
	specID, err := c.upload(ctx, specJSON)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, specID)
}

func (c *Client) upload(ctx context.Context, specJSON []byte) (string, error) {
	c.uploads.Add(1)

	body, err := json.Marshal(uploadRequest{Spec: specJSON, Tag: c.tag})
	if err != nil {
		return "", fmt.Errorf("encoding upload request: %w", err)
	}

	var out uploadResponse
	err = c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, c.projectPath("specifications"), body, &out)
	})
	if err != nil {
		return "", err
	}
	if out.Specification.ID == "" {
		return "", &TransportError{Err: errors.New("service returned no specification id")}
	}

	c.logger.Debug("specification uploaded",
		zap.String("spec_id", out.Specification.ID),
		zap.Int("bytes", len(specJSON)),
	)
	return out.Specification.ID, nil
}

func (c *Client) poll(ctx context.Context, specID string) (*Result, error) {
	path := c.projectPath("specifications") + "?specId=" + url.QueryEscape(specID)

	for attempt := 1; attempt <= c.pollMaxAttempts; attempt++ {
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return nil, &TransportError{Err: ctx.Err()}
		}

		c.polls.Add(1)
		var out pollResponse
		err := c.withRetry(ctx, func() error {
			return c.do(ctx, http.MethodGet, path, nil, &out)
		})
		if err != nil {
			return nil, err
		}

		status := Status(out.Evaluation.Status)
		switch status {
		case StatusPending:
			continue

		case StatusReady, StatusPartial, StatusStale:
			res := buildResult(specID, status, &out)
			c.logger.Debug("evaluation complete",
				zap.String("spec_id", res.SpecID),
				zap.String("status", string(status)),
				zap.Int("groups", len(res.Groups)),
				zap.Int("polls", attempt),
			)
			return res, nil

		case StatusError:
			return nil, &EvaluationError{
				Category: out.Evaluation.Category,
				Message:  out.Evaluation.Message,
			}

		default:
			return nil, &TransportError{Err: fmt.Errorf("unknown evaluation status %q", out.Evaluation.Status)}
		}
	}

	return nil, &TimeoutError{Attempts: c.pollMaxAttempts}
}

// AddRuleIgnore registers an ignore of one rule at one location and
// returns the service's opaque ignore id.
func (c *Client) AddRuleIgnore(ctx context.Context, ruleID int, key diag.ViolationKey) (string, error) {
	return c.addIgnore(ctx, fmt.Sprintf("rules/%d/ignores", ruleID), key)
}

// AddGlobalIgnore registers a location-wide ignore across all rules.
func (c *Client) AddGlobalIgnore(ctx context.Context, key diag.ViolationKey) (string, error) {
	return c.addIgnore(ctx, "ignores", key)
}

func (c *Client) addIgnore(ctx context.Context, suffix string, key diag.ViolationKey) (string, error) {
	if err := c.contextError(); err != nil {
		return "", err
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return "", ErrBreakerOpen
	}

	c.ignores.Add(1)
	body, err := json.Marshal(ignoreRequest{ViolationKey: key})
	if err != nil {
		return "", fmt.Errorf("encoding ignore request: %w", err)
	}

	var out ignoreResponse
	err = c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, c.projectPath(suffix), body, &out)
	})
	c.recordOutcome(err)
	if err != nil {
		c.countFailure(err)
		return "", err
	}

	c.logger.Debug("ignore registered",
		zap.String("id", out.ID),
		zap.String("key", key.String()),
	)
	return out.ID, nil
}

func (c *Client) contextError() error {
	if c.organization == "" {
		return &ConfigError{Reason: "organization is not set"}
	}
	if c.project == "" {
		return &ConfigError{Reason: "project is not set"}
	}
	if c.baseURL == "" {
		return &ConfigError{Reason: "service url is not set"}
	}
	return nil
}

func (c *Client) projectPath(suffix string) string {
	return fmt.Sprintf("/projects/%s/%s/%s",
		url.PathEscape(c.organization), url.PathEscape(c.project), suffix)
}

// withRetry runs op with exponential backoff. Transient errors (5xx,
// transport) retry up to the configured cap; everything else stops the
// loop immediately.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			c.retries.Add(1)
		}
		attempt++

		err := op()
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))
}

// do performs one HTTP call with the per-call timeout and bearer auth,
// decoding a 2xx JSON body into out and classifying everything else.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, rd)
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// classifyResponse maps a non-2xx response to an APIError, reading the
// service's {error, code} body when present.
func classifyResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Kind: kindForStatus(resp.StatusCode)}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(data) > 0 {
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
			apiErr.Code = body.Code
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func buildResult(specID string, status Status, out *pollResponse) *Result {
	if out.Evaluation.SpecID != "" {
		specID = out.Evaluation.SpecID
	}
	res := &Result{
		SpecID:   specID,
		Status:   status,
		Degraded: status == StatusPartial || status == StatusStale,
	}
	for _, g := range out.Violations {
		grp := diag.Group{Key: g.Key, Violations: make([]diag.Violation, 0, len(g.Violations))}
		for _, v := range g.Violations {
			grp.Violations = append(grp.Violations, diag.Violation{
				RuleID:   v.RuleID,
				RuleSlug: slugFor(out.RuleIDToSlug, v.RuleID),
				Message:  v.Message,
				Severity: diag.ParseSeverity(v.Severity),
			})
		}
		res.Groups = append(res.Groups, grp)
	}
	return res
}

func slugFor(slugs map[string]string, ruleID int) string {
	if s, ok := slugs[strconv.Itoa(ruleID)]; ok && s != "" {
		return s
	}
	return "rule-" + strconv.Itoa(ruleID)
}

// recordOutcome feeds the breaker: transport failures and 5xx count as
// service failures, everything else (including 4xx and poll timeouts)
// proves the service is responding.
func (c *Client) recordOutcome(err error) {
	if c.breaker == nil {
		return
	}
	if err == nil {
		c.breaker.RecordSuccess()
		return
	}
	if retryable(err) {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) countFailure(err error) {
	var toErr *TimeoutError
	var tErr *TransportError
	var apiErr *APIError
	var evalErr *EvaluationError
	switch {
	case errors.As(err, &toErr):
		c.timeouts.Add(1)
	case errors.As(err, &tErr):
		c.transportFailures.Add(1)
	case errors.As(err, &apiErr), errors.As(err, &evalErr):
		c.apiFailures.Add(1)
	}
}

// Stats is a point-in-time view of client counters.
type Stats struct {
	Uploads           int64           `json:"uploads"`
	Polls             int64           `json:"polls"`
	Retries           int64           `json:"retries"`
	Completed         int64           `json:"completed"`
	Ignores           int64           `json:"ignores"`
	APIFailures       int64           `json:"api_failures"`
	TransportFailures int64           `json:"transport_failures"`
	Timeouts          int64           `json:"timeouts"`
	Breaker           BreakerSnapshot `json:"breaker"`
}

func (c *Client) Stats() Stats {
	return Stats{
		Uploads:           c.uploads.Load(),
		Polls:             c.polls.Load(),
		Retries:           c.retries.Load(),
		Completed:         c.completed.Load(),
		Ignores:           c.ignores.Load(),
		APIFailures:       c.apiFailures.Load(),
		TransportFailures: c.transportFailures.Load(),
		Timeouts:          c.timeouts.Load(),
		Breaker:           c.breaker.Snapshot(),
	}
}
