package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory keeps one token bucket per key in process.
type Memory struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory creates a limiter allowing rps requests per second per key with
// the given burst. A burst below one is raised to one.
func NewMemory(rps float64, burst int) *Memory {
	if burst < 1 {
		burst = 1
	}
	return &Memory{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow implements Limiter. It never returns an error.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	e, ok := m.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.limiters[key] = e
	}
	e.lastSeen = now
	m.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Second}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Sweep drops the buckets of keys idle for longer than idle and returns how
// many were removed.
func (m *Memory) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(m.limiters, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(idle)
			}
		}
	}()
}

// HealthCheck always succeeds unless ctx is done.
func (m *Memory) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}
