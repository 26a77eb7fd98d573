package ratelimiter

import (
	"context"
	"time"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is when the current window expires.
	ResetAt time.Time
}

// RetryAfter returns how long to wait before the next request is allowed.
// Returns 0 if the current request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	return time.Until(r.ResetAt)
}

// Store is the counter backend for the fixed-window limiter.
type Store interface {
	// Increment atomically bumps the counter for key, starting the window
	// on first increment. Returns the new count and the remaining window.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Get returns the current count and remaining window without counting.
	Get(ctx context.Context, key string) (count int64, ttl time.Duration, err error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key string) error
}

// FixedWindow limits requests to a fixed number per time window.
type FixedWindow struct {
	store  Store
	limit  int
	window time.Duration
}

// NewFixedWindow creates a fixed-window rate limiter allowing limit requests
// per window.
func NewFixedWindow(store Store, limit int, window time.Duration) (*FixedWindow, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidInterval
	}
	return &FixedWindow{store: store, limit: limit, window: window}, nil
}

// Allow counts one request against key and reports whether it is within the
// limit.
func (fw *FixedWindow) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	count, ttl, err := fw.store.Increment(ctx, key, fw.window)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = fw.window
	}

	return fw.result(count, ttl), nil
}

// Status reports the current state for key without consuming a request.
func (fw *FixedWindow) Status(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	count, ttl, err := fw.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = fw.window
	}

	// Status asks "would one more request pass", so evaluate count+1.
	return fw.result(count+1, ttl), nil
}

// Reset clears the counter for key.
func (fw *FixedWindow) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return fw.store.Reset(ctx, key)
}

func (fw *FixedWindow) result(count int64, ttl time.Duration) *Result {
	remaining := fw.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   count <= int64(fw.limit),
		Limit:     fw.limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}
}
