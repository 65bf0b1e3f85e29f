// Package engine defines the Transcriber interface for speech-to-text
// backends.
//
// A Transcriber is an opaque, externally supplied capability: given a
// fixed-length float32 PCM buffer it returns timestamped text segments. A
// call may take non-deterministic, possibly long, wall-clock time; it blocks
// for its full duration and is cooperatively cancellable through a polled
// abort hook. The streaming core never reimplements inference; it only
// schedules, cancels and merges these calls.
package engine

import (
	"context"
	"strings"
	"time"
)

// Segment is one timestamped stretch of recognized text. Start and End are
// offsets from the beginning of the buffer passed to Transcribe.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcriber runs speech-to-text over a single audio buffer.
//
// samples is mono float32 PCM normalized to [-1.0, 1.0]. abort is polled
// during the call; returning true makes the engine stop early and return
// whatever segments it has produced so far. abort may be nil, meaning the
// call always runs to completion.
//
// An empty segment list with a nil error means no speech was detected. A
// non-nil error means the engine failed internally; callers treat that as
// "no text produced" for this buffer, not as fatal.
//
// Implementations must be safe for concurrent use; each call gets its own
// internal decoding state.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, abort func() bool) ([]Segment, error)
}

// Text concatenates the trimmed text of all segments with single spaces.
func Text(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
