package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// Memory is a per-key token bucket refilled at rps up to burst.
type Memory struct {
	mu      sync.Mutex
	rps     float64
	burst   int
	now     func() time.Time
	buckets map[string]*bucket
	maxKeys int
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewMemory returns nil when rps or burst is not positive; a nil *Memory
// admits everything.
func NewMemory(rps, burst int, now func() time.Time) *Memory {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{
		rps:     float64(rps),
		burst:   burst,
		now:     now,
		buckets: make(map[string]*bucket),
		maxKeys: defaultMaxKeys,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m == nil {
		return Decision{Allowed: true}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.gc(now)
		}
		b = &bucket{tokens: float64(m.burst), last: now}
		m.buckets[key] = b
	} else {
		elapsed := now.Sub(b.last).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(float64(m.burst), b.tokens+elapsed*m.rps)
			b.last = now
		}
	}

	d := Decision{Limit: m.burst}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	missing := 1 - b.tokens
	if missing < 0 {
		missing = 0
	}
	d.ResetAt = now.Add(time.Duration(missing / m.rps * float64(time.Second)))
	return d, nil
}

// gc drops buckets that have refilled completely.
func (m *Memory) gc(now time.Time) {
	full := time.Duration(float64(m.burst) / m.rps * float64(time.Second))
	for key, b := range m.buckets {
		if now.Sub(b.last) >= full {
			delete(m.buckets, key)
		}
	}
}
