// Package mock provides a test double for the vad package interfaces.
//
// Use Detector to script probe verdicts and segment lists without a real
// energy or model backend.
package mock

import (
	"sync"

	"github.com/voxpipe/voxpipe/pkg/vad"
)

// ProbeCall records a single invocation of Detector.Probe.
type ProbeCall struct {
	// Samples is a copy of the buffer passed to Probe.
	Samples []float32
	// SampleRate is the rate passed to Probe.
	SampleRate int
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Verdicts scripts successive Probe results; calls beyond the list
	// reuse the last entry. An empty list means Probe always reports
	// speech.
	Verdicts []bool

	// Spans is returned verbatim by every Segments call.
	Spans []vad.Span

	// ProbeCalls records every Probe call in order.
	ProbeCalls []ProbeCall

	probes int
}

// Probe records the call and returns the next scripted verdict.
func (d *Detector) Probe(samples []float32, sampleRate int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ProbeCalls = append(d.ProbeCalls, ProbeCall{
		Samples:    append([]float32(nil), samples...),
		SampleRate: sampleRate,
	})
	verdict := true
	if len(d.Verdicts) > 0 {
		idx := d.probes
		if idx >= len(d.Verdicts) {
			idx = len(d.Verdicts) - 1
		}
		verdict = d.Verdicts[idx]
	}
	d.probes++
	return verdict
}

// Segments returns Spans.
func (d *Detector) Segments(_ []float32, _ int, _ vad.Params) []vad.Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Spans
}

// ProbeCallCount returns the number of Probe calls. Thread-safe.
func (d *Detector) ProbeCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ProbeCalls)
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
