// Package ratelimit throttles callers by counting their requests inside a
// trailing time window.
//
// Two stores implement Limiter:
//   - Memory keeps one timestamp list per key inside the process. Every
//     replica of the server enforces its own window, so N replicas allow
//     up to N×MaxRequests per key.
//   - Redis keeps the same lists as sorted sets, shared by every replica.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the window.
// A rejected call records nothing.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy is the (max requests, window) pair of one limiter instance.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

func (p Policy) validate() error {
	if p.MaxRequests <= 0 {
		return errors.New("ratelimit: max requests must be positive")
	}
	if p.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

// Memory is an in-process sliding-window limiter.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// MemoryOption customises a Memory limiter.
type MemoryOption func(*Memory)

// WithClock replaces time.Now; tests use it to move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(policy Policy, opts ...MemoryOption) (*Memory, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	m := &Memory{
		policy: policy,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the limiter's configuration.
func (m *Memory) Policy() Policy { return m.policy }

// Allow prunes timestamps older than the window, then admits the request
// only if fewer than MaxRequests remain. The whole check-and-record runs
// under the mutex, so calls for one key are applied in arrival order.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := prune(m.hits[key], now, m.policy.Window)

	if len(kept) >= m.policy.MaxRequests {
		m.hits[key] = kept
		return false, nil
	}

	m.hits[key] = append(kept, now)
	return true, nil
}

// Len reports how many keys currently hold timestamps.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// Sweep drops every key whose timestamps have all left the window.
// Allow only prunes the key it is called with, so a key that never comes
// back would otherwise stay in the map forever.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, ts := range m.hits {
		kept := prune(ts, now, m.policy.Window)
		if len(kept) == 0 {
			delete(m.hits, key)
			removed++
			continue
		}
		m.hits[key] = kept
	}
	return removed
}

// prune returns the suffix of ts younger than window. ts is ordered
// oldest first, so the first young entry ends the scan.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	// copy so the dropped prefix can be collected
	return append([]time.Time(nil), ts[i:]...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
