package stream

import (
	"github.com/voxpipe/voxpipe/pkg/vad"
)

// Mode selects how a session decides when to run inference.
type Mode string

const (
	// ModeFixed emits a window every step of newly arrived samples,
	// silence included. Uniform latency.
	ModeFixed Mode = "fixed"

	// ModeVAD accumulates a probe of audio, asks the voice-activity
	// detector, and only transcribes when speech is present. Trades
	// throughput for not wasting inference on silence.
	ModeVAD Mode = "vad"
)

// gate decides which newly arrived samples are worth transcribing. It is
// the only component that reads from the ring buffer during STREAMING.
type gate struct {
	mode       Mode
	ring       *Ring
	det        vad.Detector
	sampleRate int
	probe      int // probe length in samples (ModeVAD)
	target     int // extracted window length in samples (ModeVAD)

	tail []float32 // rolling last target samples seen (ModeVAD)
}

// next blocks until the gate reaches a decision for the stream's next
// stretch of audio.
//
// batch holds the samples to transcribe; it is nil when this round produced
// no window (a silent probe, or end-of-stream). fresh holds every sample
// popped from the ring this round; the caller accumulates it into the
// session audio exactly once. In VAD mode batch reaches back before fresh:
// it is the trailing window of up to target samples, carried across probes
// so a speech verdict extracts full-length context even when the probe is
// shorter than the window. ok is false once the ring is finished and
// drained, after which the gate is closed.
func (g *gate) next(step int) (batch, fresh []float32, ok bool) {
	switch g.mode {
	case ModeVAD:
		got := g.ring.Pop(g.probe)
		if len(got) == 0 {
			return nil, nil, false
		}
		if len(got) < g.probe {
			// Draining: not enough for another probe.
			return nil, got, false
		}
		g.tail = appendBounded(g.tail, got, g.target)
		if !g.det.Probe(got, g.sampleRate) {
			// Silent probe: no window, keep accumulating context.
			return nil, got, true
		}
		batch = make([]float32, len(g.tail))
		copy(batch, g.tail)
		return batch, got, true

	default: // ModeFixed
		got := g.ring.Pop(step)
		if len(got) == 0 {
			return nil, nil, false
		}
		if len(got) < step {
			// Draining: the remainder is flushed without partial inference.
			return nil, got, false
		}
		return got, got, true
	}
}

// appendBounded appends samples to buf keeping only the last limit
// elements, reusing buf's backing array.
func appendBounded(buf, samples []float32, limit int) []float32 {
	buf = append(buf, samples...)
	if len(buf) > limit {
		n := copy(buf, buf[len(buf)-limit:])
		buf = buf[:n]
	}
	return buf
}
