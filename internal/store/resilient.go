package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by [Resilient] while its breaker is open.
var ErrStoreUnavailable = errors.New("store: temporarily unavailable")

// Compile-time interface check.
var _ TranscriptStore = (*Resilient)(nil)

// Resilient wraps a [TranscriptStore] with a two-state breaker: after
// maxFailures consecutive errors the wrapped store is considered down and
// calls fail fast with [ErrStoreUnavailable] until retryAfter has elapsed,
// when the next call is allowed through as a probe.
//
// Transcript persistence is best effort, so failing fast matters more than
// careful probing: a dead database must not add a connection timeout to
// every session teardown.
type Resilient struct {
	inner TranscriptStore

	maxFailures int
	retryAfter  time.Duration

	mu          sync.Mutex
	failures    int
	tripped     bool
	lastFailure time.Time
}

// NewResilient wraps inner. Non-positive maxFailures defaults to 3,
// non-positive retryAfter to 30 seconds.
func NewResilient(inner TranscriptStore, maxFailures int, retryAfter time.Duration) *Resilient {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	return &Resilient{
		inner:       inner,
		maxFailures: maxFailures,
		retryAfter:  retryAfter,
	}
}

// allow reports whether a call may proceed. While tripped, one probe call is
// allowed each retryAfter interval.
func (r *Resilient) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tripped {
		return true
	}
	if time.Since(r.lastFailure) >= r.retryAfter {
		r.lastFailure = time.Now()
		return true
	}
	return false
}

// observe records the outcome of a call.
func (r *Resilient) observe(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		if r.tripped {
			slog.Info("transcript store recovered")
		}
		r.tripped = false
		r.failures = 0
		return
	}
	r.failures++
	r.lastFailure = time.Now()
	if !r.tripped && r.failures >= r.maxFailures {
		r.tripped = true
		slog.Warn("transcript store marked unavailable",
			"consecutive_failures", r.failures,
			"retry_after", r.retryAfter,
		)
	}
}

// Save implements [TranscriptStore].
func (r *Resilient) Save(ctx context.Context, rec Record) (Record, error) {
	if !r.allow() {
		return Record{}, ErrStoreUnavailable
	}
	out, err := r.inner.Save(ctx, rec)
	r.observe(err)
	return out, err
}

// Recent implements [TranscriptStore].
func (r *Resilient) Recent(ctx context.Context, limit int) ([]Record, error) {
	if !r.allow() {
		return nil, ErrStoreUnavailable
	}
	out, err := r.inner.Recent(ctx, limit)
	r.observe(err)
	return out, err
}

// Search implements [TranscriptStore].
func (r *Resilient) Search(ctx context.Context, query string, opts SearchOpts) ([]Record, error) {
	if !r.allow() {
		return nil, ErrStoreUnavailable
	}
	out, err := r.inner.Search(ctx, query, opts)
	r.observe(err)
	return out, err
}

// Close closes the wrapped store.
func (r *Resilient) Close() {
	r.inner.Close()
}
