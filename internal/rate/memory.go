package rate

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count    int64
	expireAt time.Time
}

// MemoryCounter is a single-process CounterStore. Counts are not shared
// across processes, so it suits tests and single-instance deployments only.
type MemoryCounter struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// MemoryOption customizes a MemoryCounter.
type MemoryOption func(*MemoryCounter)

// WithMemoryClock replaces time.Now for expiry decisions.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCounter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter(opts ...MemoryOption) *MemoryCounter {
	m := &MemoryCounter{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IncrementWithExpiry implements CounterStore.
func (m *MemoryCounter) IncrementWithExpiry(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now, false)

	e, ok := m.entries[key]
	if !ok || !now.Before(e.expireAt) {
		e = memoryEntry{}
	}
	e.count++
	e.expireAt = expireAt
	m.entries[key] = e
	return e.count, nil
}

// Len returns the number of live keys.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now(), true)
	return len(m.entries)
}

// sweepLocked drops expired keys, at most once per second unless forced.
func (m *MemoryCounter) sweepLocked(now time.Time, force bool) {
	if !force && now.Sub(m.lastSweep) < time.Second {
		return
	}
	m.lastSweep = now
	for k, e := range m.entries {
		if !now.Before(e.expireAt) {
			delete(m.entries, k)
		}
	}
}
