package evaluation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/speclint/config"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// breaker is a consecutive-failure circuit breaker guarding the
// evaluation service. Open rejects immediately; after the open timeout
// a single half-open probe decides recovery.
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	successes        int
	probing          bool
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	lastFailure      time.Time

	rejected atomic.Int64
}

// newBreaker returns nil when the breaker is disabled; callers treat a
// nil breaker as always-allow.
func newBreaker(cfg config.BreakerConfig) *breaker {
	if !cfg.Enabled {
		return nil
	}
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = 5
	}
	if b.successThreshold <= 0 {
		b.successThreshold = 2
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	return b
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true

	case breakerOpen:
		if time.Since(b.lastFailure) >= b.timeout {
			b.state = breakerHalfOpen
			b.probing = true
			b.failures = 0
			b.successes = 0
			return true
		}
		b.rejected.Add(1)
		return false

	case breakerHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		b.rejected.Add(1)
		return false
	}
	return false
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures = 0

	case breakerHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = breakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = breakerOpen
			b.lastFailure = time.Now()
		}

	case breakerHalfOpen:
		b.state = breakerOpen
		b.probing = false
		b.successes = 0
		b.lastFailure = time.Now()
	}
}

// BreakerSnapshot is a point-in-time view of the circuit breaker.
type BreakerSnapshot struct {
	Enabled  bool   `json:"enabled"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
	Rejected int64  `json:"rejected"`
}

func (b *breaker) Snapshot() BreakerSnapshot {
	if b == nil {
		return BreakerSnapshot{State: breakerClosed.String()}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Enabled:  true,
		State:    b.state.String(),
		Failures: b.failures,
		Rejected: b.rejected.Load(),
	}
}
