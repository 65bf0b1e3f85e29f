package stream

import "sync/atomic"

// CancelFlag is the cooperative cancellation handshake between the producer
// side of a session and an in-flight inference call. The consumer arms the
// flag immediately before each call; the producer cancels it exactly once,
// on end-of-stream, so the current call can observe it through its polling
// hook and return early with partial results. Cancellation is advisory: it
// shortens the call's result, never corrupts it.
//
// The final full-audio pass arms the flag and nothing ever cancels it
// afterwards, so that pass always runs to completion.
type CancelFlag struct {
	cancelled atomic.Bool
}

// Arm resets the flag to not-cancelled. Call before each inference.
func (f *CancelFlag) Arm() { f.cancelled.Store(false) }

// Cancel sets the flag. Safe to call from a different goroutine than the
// one polling it.
func (f *CancelFlag) Cancel() { f.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called since the last Arm.
// This is the function handed to the engine as its abort poll hook.
func (f *CancelFlag) Cancelled() bool { return f.cancelled.Load() }
