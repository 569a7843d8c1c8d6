package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPrefix namespaces counter keys.
	DefaultPrefix = "rate-limit"
	// DefaultExpirationWindow is added to the window reset when setting key expiry.
	DefaultExpirationWindow = 10 * time.Second
)

// CounterStore is the shared, atomic counter backing a Window.
// IncrementWithExpiry must add one to key (starting from zero when absent)
// and set its expiry to expireAt in a single atomic step, returning the new
// count.
type CounterStore interface {
	IncrementWithExpiry(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Config holds the key layout and expiry grace for a Window.
type Config struct {
	Prefix           string
	ExpirationWindow time.Duration
}

// DefaultConfig returns the prefix and grace used when none are configured.
func DefaultConfig() Config {
	return Config{
		Prefix:           DefaultPrefix,
		ExpirationWindow: DefaultExpirationWindow,
	}
}

// State is the outcome of one charge. It is computed fresh per request and
// never stored.
type State struct {
	Key       string
	Limit     int
	Current   int
	Remaining int
	Reset     int64 // epoch seconds at which the window closes
	Count     int64 // raw counter value after the increment
}

// Exceeded reports whether the charge went past the limit.
func (s State) Exceeded() bool {
	return s.Count > int64(s.Limit)
}

// Window charges requests against fixed, epoch-aligned windows.
type Window struct {
	store  CounterStore
	config Config
	now    func() time.Time
}

// Option customizes a Window.
type Option func(*Window)

// WithClock replaces time.Now for window alignment.
func WithClock(now func() time.Time) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

// New creates a Window over store. A negative ExpirationWindow is treated as zero.
func New(store CounterStore, cfg Config, opts ...Option) *Window {
	if cfg.ExpirationWindow < 0 {
		cfg.ExpirationWindow = 0
	}
	w := &Window{store: store, config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Charge counts one request for (endpoint, client) and reports the window state.
// On store failure it returns a State carrying Limit and Reset with zero
// Remaining, together with an error wrapping ErrStoreUnavailable, so callers
// can still emit headers while failing closed.
func (w *Window) Charge(ctx context.Context, endpoint, client string, limit int, per time.Duration) (State, error) {
	if limit < 1 || per < time.Second {
		return State{}, fmt.Errorf("%w: limit=%d per=%s", ErrInvalidPolicy, limit, per)
	}

	reset := ResetFor(w.now(), per)
	key := Key(w.config.Prefix, endpoint, client, reset)
	expireAt := time.Unix(reset, 0).Add(w.config.ExpirationWindow)

	count, err := w.store.IncrementWithExpiry(ctx, key, expireAt)
	if err != nil {
		return State{Key: key, Limit: limit, Reset: reset}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	current := limit
	if count < int64(limit) {
		current = int(count)
	}

	return State{
		Key:       key,
		Limit:     limit,
		Current:   current,
		Remaining: limit - current,
		Reset:     reset,
		Count:     count,
	}, nil
}

// ResetFor returns the epoch second at which the window containing now closes.
func ResetFor(now time.Time, per time.Duration) int64 {
	p := int64(per / time.Second)
	if p < 1 {
		p = 1
	}
	return (now.Unix()/p)*p + p
}

// Key builds the counter key. An empty prefix drops the leading segment.
func Key(prefix, endpoint, client string, reset int64) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(endpoint) + len(client) + 24)
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('/')
	}
	b.WriteString(endpoint)
	b.WriteByte('/')
	b.WriteString(client)
	b.WriteByte('/')
	b.WriteString(strconv.FormatInt(reset, 10))
	return b.String()
}
