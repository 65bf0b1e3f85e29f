// Package store persists final transcripts produced by completed streaming
// sessions.
//
// The [TranscriptStore] interface is small on purpose: voxpipe only writes a
// transcript once, when a session finalizes, and reads are an operator
// convenience (recent history, keyword search). The canonical implementation
// is PostgreSQL-backed ([NewPostgres]); a session runs exactly the same with
// no store configured.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"time"
)

// Record is one persisted final transcript.
type Record struct {
	// ID is assigned by the store on save. Zero before the record is written.
	ID int64

	// SessionID identifies the streaming session that produced the
	// transcript. Assigned by the transport layer.
	SessionID string

	// Text is the final full-audio transcript.
	Text string

	// AudioSeconds is the total duration of audio the session consumed.
	AudioSeconds float64

	// CreatedAt is when the record was written. Assigned by the store.
	CreatedAt time.Time
}

// SearchOpts configures a full-text search over stored transcripts.
// All non-zero fields are applied as AND conditions.
type SearchOpts struct {
	// After filters records created after this instant (exclusive).
	// A zero Time disables the lower bound.
	After time.Time

	// Before filters records created before this instant (exclusive).
	// A zero Time disables the upper bound.
	Before time.Time

	// Limit caps the number of results returned.
	// A value of 0 means the implementation may apply its own default.
	Limit int
}

// TranscriptStore is the persistence interface for final transcripts.
type TranscriptStore interface {
	// Save writes rec and returns it with ID and CreatedAt filled in.
	Save(ctx context.Context, rec Record) (Record, error)

	// Recent returns the most recently created records, newest first.
	// limit <= 0 applies a store default.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Search performs a keyword search over transcript text.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Record, error)

	// Close releases any resources held by the store.
	Close()
}
