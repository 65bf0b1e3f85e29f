// Package vad defines the Detector interface for voice-activity backends.
//
// A detector answers two questions: does this buffer contain speech right
// now (Probe, used by the live streaming gate), and where exactly are the
// speech stretches in this buffer (Segments, used by batch tooling outside
// the live loop). Detectors hold no per-stream state; both calls are pure
// functions of their input and must be safe for concurrent use.
package vad

import "time"

// Params configures speech segmentation. The zero value is not usable;
// start from DefaultParams.
type Params struct {
	// Threshold is the speech-probability cutoff above which a frame is
	// classified as speech. Range (0, 1].
	Threshold float64 `yaml:"threshold"`

	// MinSpeechMs is the minimum duration for a detected segment; shorter
	// stretches are discarded as spurious.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// MinSilenceMs is the minimum silence gap that separates two segments;
	// shorter gaps are bridged.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MaxSpeechSec forces a segment boundary after this much continuous
	// speech, bounding latency even when the speaker never pauses.
	MaxSpeechSec float64 `yaml:"max_speech_sec"`

	// SpeechPadMs is context padding added to each side of a segment.
	SpeechPadMs int `yaml:"speech_pad_ms"`

	// SamplesOverlap is the fractional overlap retained between adjacent
	// segments when they are extracted as standalone audio, so words at a
	// boundary are not cut. Range [0, 1).
	SamplesOverlap float64 `yaml:"samples_overlap"`
}

// DefaultParams returns the segmentation defaults.
func DefaultParams() Params {
	return Params{
		Threshold:      0.5,
		MinSpeechMs:    250,
		MinSilenceMs:   100,
		MaxSpeechSec:   30,
		SpeechPadMs:    30,
		SamplesOverlap: 0.1,
	}
}

// Span is one detected stretch of speech, as offsets from the start of the
// analysed buffer.
type Span struct {
	Start time.Duration
	End   time.Duration
}

// Detector classifies audio as speech or silence.
type Detector interface {
	// Probe reports whether the buffer contains speech. samples is mono
	// float32 PCM normalized to [-1.0, 1.0].
	Probe(samples []float32, sampleRate int) bool

	// Segments returns the ordered speech spans in the buffer. Each span
	// satisfies p.MinSpeechMs, is separated from its neighbours by at
	// least p.MinSilenceMs of silence, is no longer than p.MaxSpeechSec
	// and is padded by p.SpeechPadMs on each side.
	Segments(samples []float32, sampleRate int, p Params) []Span
}
