// Package mock provides an in-memory TranscriptStore for tests.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/voxpipe/voxpipe/internal/store"
)

// Compile-time interface check.
var _ store.TranscriptStore = (*Store)(nil)

// Store is an in-memory [store.TranscriptStore]. The zero value is ready to
// use. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records []store.Record
	nextID  int64

	// SaveErr, when non-nil, is returned by every Save call.
	SaveErr error
}

// Save implements [store.TranscriptStore].
func (s *Store) Save(_ context.Context, rec store.Record) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return store.Record{}, s.SaveErr
	}

	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = time.Now()
	s.records = append(s.records, rec)
	return rec, nil
}

// Recent implements [store.TranscriptStore]. Records are returned newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]store.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Search implements [store.TranscriptStore] with a case-insensitive substring
// match instead of real full-text search.
func (s *Store) Search(_ context.Context, query string, opts store.SearchOpts) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []store.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !strings.Contains(strings.ToLower(r.Text), q) {
			continue
		}
		if !opts.After.IsZero() && !r.CreatedAt.After(opts.After) {
			continue
		}
		if !opts.Before.IsZero() && !r.CreatedAt.Before(opts.Before) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Close implements [store.TranscriptStore]. It is a no-op.
func (s *Store) Close() {}

// Records returns a copy of everything saved so far, oldest first.
func (s *Store) Records() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Record, len(s.records))
	copy(out, s.records)
	return out
}
