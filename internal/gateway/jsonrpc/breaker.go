package jsonrpc

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of the backend circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the open timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// minRateSamples is the number of calls a window needs before its error
// rate can trip the breaker.
const minRateSamples = 10

// BreakerConfig holds the breaker thresholds. Zero values take defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// ErrorRateThreshold (0..1) opens the breaker on the failure ratio of the
	// current window. 0 disables it.
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// Breaker guards the backend against repeated calls while it is failing.
// Only infrastructure failures count: a backend that answers with a
// business error is healthy. It is safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures int
	trials   int
	openedAt time.Time
	onChange func(BreakerState)

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	now func() time.Time
}

// NewBreaker creates a closed breaker. onChange, if non-nil, is called after
// every state transition.
func NewBreaker(cfg BreakerConfig, onChange func(BreakerState)) *Breaker {
	b := &Breaker{
		cfg:      cfg.withDefaults(),
		state:    BreakerClosed,
		onChange: onChange,
		now:      time.Now,
	}
	b.windowStart = b.now()
	return b
}

// Allow returns ErrBreakerOpen if the call must be rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	changed := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(changed, state)

	if state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// Success records a call that reached a healthy backend.
func (b *Breaker) Success() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures = 0
		b.countWindow(false)
	case BreakerHalfOpen:
		b.trials++
		if b.trials >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.trials = 0
			b.resetWindow()
			changed = true
		}
	}
	state := b.state
	b.mu.Unlock()
	b.notify(changed, state)
}

// Failure records an infrastructure failure.
func (b *Breaker) Failure() {
	b.mu.Lock()
	changed := false
	switch b.state {
	case BreakerClosed:
		b.failures++
		b.countWindow(true)
		if b.failures >= b.cfg.FailureThreshold || b.rateExceeded() {
			b.open()
			changed = true
		}
	case BreakerHalfOpen:
		b.open()
		changed = true
	}
	state := b.state
	b.mu.Unlock()
	b.notify(changed, state)
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	changed := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(changed, state)
	return state
}

func (b *Breaker) notify(changed bool, state BreakerState) {
	if changed && b.onChange != nil {
		b.onChange(state)
	}
}

// The helpers below require b.mu.

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.trials = 0
	b.resetWindow()
}

func (b *Breaker) refresh() bool {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) > b.cfg.OpenTimeout {
		b.state = BreakerHalfOpen
		b.trials = 0
		return true
	}
	return false
}

func (b *Breaker) countWindow(failed bool) {
	if b.cfg.ErrorRateWindow <= 0 {
		return
	}
	if b.now().Sub(b.windowStart) > b.cfg.ErrorRateWindow {
		b.resetWindow()
	}
	b.windowTotal++
	if failed {
		b.windowFailures++
	}
}

func (b *Breaker) resetWindow() {
	b.windowStart = b.now()
	b.windowTotal = 0
	b.windowFailures = 0
}

func (b *Breaker) rateExceeded() bool {
	if b.cfg.ErrorRateThreshold <= 0 || b.cfg.ErrorRateWindow <= 0 || b.windowTotal < minRateSamples {
		return false
	}
	return float64(b.windowFailures)/float64(b.windowTotal) >= b.cfg.ErrorRateThreshold
}
