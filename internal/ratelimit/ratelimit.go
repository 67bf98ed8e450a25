// Package ratelimit implements sliding-window admission keyed by caller.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one admission check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is set on rejection: the window length rounded up to whole seconds
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key within a sliding window
type Limiter interface {
	Admit(ctx context.Context, key string, window time.Duration, max int) (Decision, error)
}

// RetryAfterSeconds rounds the window up to whole seconds
func RetryAfterSeconds(window time.Duration) int {
	return int(math.Ceil(window.Seconds()))
}

func reject(window time.Duration, max int) Decision {
	return Decision{
		Allowed:    false,
		Limit:      max,
		Remaining:  0,
		RetryAfter: time.Duration(RetryAfterSeconds(window)) * time.Second,
	}
}

// Memory keeps request instants per key in process memory
type Memory struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemory creates an empty in-memory window table
func NewMemory() *Memory {
	return &Memory{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Admit prunes instants older than window, then records now if fewer than max remain
func (m *Memory) Admit(_ context.Context, key string, window time.Duration, max int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recent := prune(m.hits[key], now.Add(-window))

	if len(recent) >= max {
		m.hits[key] = recent
		return reject(window, max), nil
	}

	m.hits[key] = append(recent, now)
	return Decision{Allowed: true, Limit: max, Remaining: max - len(recent) - 1}, nil
}

// Sweep drops keys whose instants all fall outside window. It returns the number of keys removed.
func (m *Memory) Sweep(window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	removed := 0
	for key, instants := range m.hits {
		recent := prune(instants, cutoff)
		if len(recent) == 0 {
			delete(m.hits, key)
			removed++
			continue
		}
		m.hits[key] = recent
	}
	return removed
}

// Keys returns the number of tracked keys
func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// RunSweeper calls Sweep every interval until ctx is done
func (m *Memory) RunSweeper(ctx context.Context, every, window time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(window)
		}
	}
}

// prune は cutoff 以前の時刻を先頭から取り除く（昇順前提）
func prune(instants []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(instants) && !instants[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return instants
	}
	return append(instants[:0], instants[i:]...)
}
