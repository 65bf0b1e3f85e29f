// Package energy implements vad.Detector with a high-pass filter and RMS
// energy thresholds. It is a deliberately simple detector: no model, no
// per-stream state, just filtered signal energy. It is the default gate for
// live streaming and is good enough to skip obvious silence; callers that
// need phoneme-level accuracy should plug in a model-backed Detector.
package energy

import (
	"math"
	"time"

	"github.com/voxpipe/voxpipe/pkg/vad"
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

const (
	defaultProbeRMS       = 0.01
	defaultHighPassCutoff = 100.0 // Hz
	defaultFrameMs        = 10
)

// Detector classifies audio by filtered RMS energy.
type Detector struct {
	probeRMS float64 // absolute RMS above which a probe counts as speech
	cutoff   float64 // high-pass cutoff in Hz, 0 disables the filter
	frameMs  int     // analysis frame size for Segments
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithProbeRMS sets the absolute RMS threshold used by Probe. Defaults
// to 0.01.
func WithProbeRMS(rms float64) Option {
	return func(d *Detector) { d.probeRMS = rms }
}

// WithHighPassCutoff sets the high-pass filter cutoff in Hz applied before
// any energy measurement, suppressing low-frequency rumble. 0 disables the
// filter. Defaults to 100 Hz.
func WithHighPassCutoff(hz float64) Option {
	return func(d *Detector) { d.cutoff = hz }
}

// New creates a Detector with the given options applied over the defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		probeRMS: defaultProbeRMS,
		cutoff:   defaultHighPassCutoff,
		frameMs:  defaultFrameMs,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Probe reports whether the buffer contains speech: the RMS of the
// high-pass-filtered signal must exceed the configured absolute threshold.
func (d *Detector) Probe(samples []float32, sampleRate int) bool {
	if len(samples) == 0 || sampleRate <= 0 {
		return false
	}
	filtered := highPass(samples, d.cutoff, sampleRate)
	return rms(filtered) > d.probeRMS
}

// Segments returns the speech spans in the buffer. Frames are classified
// against p.Threshold times the buffer's mean frame energy, then merged and
// trimmed per the Params contract: gaps shorter than MinSilenceMs are
// bridged, spans shorter than MinSpeechMs are dropped, spans longer than
// MaxSpeechSec are split, and each surviving span is padded by SpeechPadMs.
// When p.SamplesOverlap > 0 each span's end is extended by that fraction of
// a second so adjacent extracted audio overlaps instead of cutting words.
func (d *Detector) Segments(samples []float32, sampleRate int, p vad.Params) []vad.Span {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	filtered := highPass(samples, d.cutoff, sampleRate)

	frameLen := sampleRate * d.frameMs / 1000
	if frameLen <= 0 {
		frameLen = 1
	}
	nFrames := (len(filtered) + frameLen - 1) / frameLen

	// Per-frame energy and the buffer mean as the speech reference level.
	energies := make([]float64, nFrames)
	var mean float64
	for i := range nFrames {
		lo := i * frameLen
		hi := lo + frameLen
		if hi > len(filtered) {
			hi = len(filtered)
		}
		energies[i] = rms(filtered[lo:hi])
		mean += energies[i]
	}
	mean /= float64(nFrames)
	if mean == 0 {
		return nil
	}
	cut := p.Threshold * mean

	// Collect raw speech runs in frame indices.
	type run struct{ start, end int } // [start, end) frames
	var runs []run
	inSpeech := false
	start := 0
	for i, e := range energies {
		speech := e > cut
		switch {
		case speech && !inSpeech:
			inSpeech = true
			start = i
		case !speech && inSpeech:
			inSpeech = false
			runs = append(runs, run{start, i})
		}
	}
	if inSpeech {
		runs = append(runs, run{start, nFrames})
	}

	// Bridge gaps shorter than MinSilenceMs.
	minGapFrames := p.MinSilenceMs / d.frameMs
	merged := runs[:0]
	for _, r := range runs {
		if n := len(merged); n > 0 && r.start-merged[n-1].end < minGapFrames {
			merged[n-1].end = r.end
			continue
		}
		merged = append(merged, r)
	}

	// Drop runs shorter than MinSpeechMs, split at MaxSpeechSec, pad and
	// convert to time spans.
	minFrames := p.MinSpeechMs / d.frameMs
	maxFrames := int(p.MaxSpeechSec * 1000 / float64(d.frameMs))
	pad := time.Duration(p.SpeechPadMs) * time.Millisecond
	overlap := time.Duration(p.SamplesOverlap * float64(time.Second))
	bufDur := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)

	var spans []vad.Span
	for _, r := range merged {
		if r.end-r.start < minFrames {
			continue
		}
		for s := r.start; s < r.end; {
			e := r.end
			if maxFrames > 0 && e-s > maxFrames {
				e = s + maxFrames
			}
			span := vad.Span{
				Start: frameTime(s, d.frameMs) - pad,
				End:   frameTime(e, d.frameMs) + pad + overlap,
			}
			if span.Start < 0 {
				span.Start = 0
			}
			if span.End > bufDur {
				span.End = bufDur
			}
			spans = append(spans, span)
			s = e
		}
	}
	return spans
}

func frameTime(frame, frameMs int) time.Duration {
	return time.Duration(frame) * time.Duration(frameMs) * time.Millisecond
}

// highPass applies a first-order RC high-pass filter and returns the
// filtered copy. cutoff <= 0 returns the input unchanged.
func highPass(samples []float32, cutoff float64, sampleRate int) []float32 {
	if cutoff <= 0 || len(samples) < 2 {
		return samples
	}
	rc := 1.0 / (2.0 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	alpha := rc / (rc + dt)

	out := make([]float32, len(samples))
	out[0] = samples[0]
	y := float64(samples[0])
	for i := 1; i < len(samples); i++ {
		y = alpha * (y + float64(samples[i]) - float64(samples[i-1]))
		out[i] = float32(y)
	}
	return out
}

// rms returns the root-mean-square amplitude of the samples.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
