// Package mock provides a test double for the engine package interfaces.
//
// Use Transcriber to script the segments each inference call returns and to
// inspect which audio buffers the streaming core handed over.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Results: []mock.Result{
//	        {Segments: []engine.Segment{{Text: "hello"}}},
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxpipe/voxpipe/pkg/engine"
)

// Result scripts the outcome of a single Transcribe call. Calls beyond the
// scripted list reuse the last Result; an empty Results list means every
// call returns no segments and no error.
type Result struct {
	// Segments is returned verbatim.
	Segments []engine.Segment

	// Err, if non-nil, is returned instead of Segments.
	Err error

	// Delay, if non-zero, is slept before returning, polling Abort every
	// millisecond; if Abort reports true the call returns the scripted
	// Segments early, mirroring cooperative cancellation.
	Delay time.Duration
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio buffer passed to Transcribe.
	Samples []float32

	// Aborted reports whether the abort hook fired during this call.
	Aborted bool
}

// Transcriber is a mock implementation of engine.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results scripts successive calls; see Result.
	Results []Result

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	calls int
}

// Transcribe records the call and returns the next scripted Result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, abort func() bool) ([]engine.Segment, error) {
	t.mu.Lock()
	var res Result
	if len(t.Results) > 0 {
		idx := t.calls
		if idx >= len(t.Results) {
			idx = len(t.Results) - 1
		}
		res = t.Results[idx]
	}
	t.calls++
	call := TranscribeCall{Samples: append([]float32(nil), samples...)}
	t.TranscribeCalls = append(t.TranscribeCalls, call)
	idx := len(t.TranscribeCalls) - 1
	t.mu.Unlock()

	aborted := false
	if res.Delay > 0 {
		deadline := time.Now().Add(res.Delay)
		for time.Now().Before(deadline) {
			if abort != nil && abort() {
				aborted = true
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}

	t.mu.Lock()
	t.TranscribeCalls[idx].Aborted = aborted
	t.mu.Unlock()

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Segments, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (t *Transcriber) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.calls = 0
}

// Ensure Transcriber implements engine.Transcriber at compile time.
var _ engine.Transcriber = (*Transcriber)(nil)
