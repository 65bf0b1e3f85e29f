// Package stream is the streaming transcription core: a producer/consumer
// ring buffer under backpressure, an overlap-save window assembler, a
// voice-activity gate, a latency-adaptive scheduler, a cooperative
// cancellation flag and an overlap-aware transcript merger, tied together
// by a per-connection Session state machine.
//
// The neural inference itself is an external capability behind
// engine.Transcriber; this package only decides when to call it, with what
// audio, and how to reconcile the overlapping results it returns.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/engine"
	"github.com/voxpipe/voxpipe/pkg/vad"
)

// State is a session lifecycle phase.
type State string

const (
	StateOpen       State = "open"
	StateStreaming  State = "streaming"
	StateDraining   State = "draining"
	StateFinalizing State = "finalizing"
	StateClosed     State = "closed"
)

// Transcript is one emitted transcription event. Zero or more partials are
// followed by exactly one final per session.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Config holds the per-session streaming parameters. Validate applies
// defaults and rejects inconsistent values before any goroutine starts.
type Config struct {
	// SampleRate is the input sample rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Mode selects fixed-cadence or VAD-triggered windowing. Default fixed.
	Mode Mode `yaml:"mode"`

	// StepMs is the initial cadence: a window is built every StepMs of new
	// audio. Default 500.
	StepMs int `yaml:"step_ms"`

	// LengthMs is the total window duration including carried context.
	// Must be >= StepMs. Default 5000.
	LengthMs int `yaml:"length_ms"`

	// KeepMs is the trailing context carried between windows. Must be
	// <= StepMs. Default 200.
	KeepMs int `yaml:"keep_ms"`

	// BufferCapMs soft-caps the ring buffer; older audio beyond it is
	// dropped. Default 20000.
	BufferCapMs int `yaml:"buffer_cap_ms"`

	// ProbeMs is the VAD probe duration in ModeVAD. Default 2000.
	ProbeMs int `yaml:"probe_ms"`

	// Alpha is the EWMA smoothing factor for inference latency. Must be in
	// (0, 1). Default 0.3.
	Alpha float64 `yaml:"ewma_alpha"`

	// SafetyFactor is the headroom multiplier applied to the smoothed
	// latency when deriving the next step. Must be >= 1. Default 1.1.
	SafetyFactor float64 `yaml:"safety_factor"`

	// MinStepMs and MaxStepMs bound the adaptive cadence. Defaults 500 and
	// 5000.
	MinStepMs int `yaml:"min_step_ms"`
	MaxStepMs int `yaml:"max_step_ms"`

	// VAD configures speech segmentation for batch tooling; the live gate
	// only uses the detector's probe verdict.
	VAD vad.Params `yaml:"vad"`
}

// Validate applies defaults to unset fields and returns all constraint
// violations joined into one error. A session whose config fails validation
// never starts.
func (c *Config) Validate() error {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Mode == "" {
		c.Mode = ModeFixed
	}
	if c.StepMs == 0 {
		c.StepMs = 500
	}
	if c.LengthMs == 0 {
		c.LengthMs = 5000
	}
	if c.KeepMs == 0 {
		c.KeepMs = 200
	}
	if c.BufferCapMs == 0 {
		c.BufferCapMs = 20000
	}
	if c.ProbeMs == 0 {
		c.ProbeMs = 2000
	}
	if c.Alpha == 0 {
		c.Alpha = 0.3
	}
	if c.SafetyFactor == 0 {
		c.SafetyFactor = 1.1
	}
	if c.MinStepMs == 0 {
		// Never let the default lower bound override a smaller configured
		// cadence.
		c.MinStepMs = 500
		if c.StepMs < c.MinStepMs {
			c.MinStepMs = c.StepMs
		}
	}
	if c.MaxStepMs == 0 {
		c.MaxStepMs = 5000
	}
	if c.VAD == (vad.Params{}) {
		c.VAD = vad.DefaultParams()
	}

	var errs []error
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.Mode != ModeFixed && c.Mode != ModeVAD {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeFixed, ModeVAD, c.Mode))
	}
	if c.StepMs < 0 {
		errs = append(errs, fmt.Errorf("step_ms must be positive, got %d", c.StepMs))
	}
	if c.LengthMs < c.StepMs {
		errs = append(errs, fmt.Errorf("length_ms (%d) must be >= step_ms (%d)", c.LengthMs, c.StepMs))
	}
	if c.KeepMs > c.StepMs {
		errs = append(errs, fmt.Errorf("keep_ms (%d) must be <= step_ms (%d)", c.KeepMs, c.StepMs))
	}
	if c.KeepMs < 0 {
		errs = append(errs, fmt.Errorf("keep_ms must not be negative, got %d", c.KeepMs))
	}
	if c.BufferCapMs < 0 {
		errs = append(errs, fmt.Errorf("buffer_cap_ms must be positive, got %d", c.BufferCapMs))
	}
	if c.ProbeMs < 0 {
		errs = append(errs, fmt.Errorf("probe_ms must be positive, got %d", c.ProbeMs))
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		errs = append(errs, fmt.Errorf("ewma_alpha must be in (0, 1), got %g", c.Alpha))
	}
	if c.SafetyFactor < 1 {
		errs = append(errs, fmt.Errorf("safety_factor must be >= 1, got %g", c.SafetyFactor))
	}
	if c.MinStepMs < 0 {
		errs = append(errs, fmt.Errorf("min_step_ms must be positive, got %d", c.MinStepMs))
	}
	if c.MaxStepMs < 0 {
		errs = append(errs, fmt.Errorf("max_step_ms must be positive, got %d", c.MaxStepMs))
	}
	if c.MinStepMs > c.MaxStepMs {
		errs = append(errs, fmt.Errorf("min_step_ms (%d) must be <= max_step_ms (%d)", c.MinStepMs, c.MaxStepMs))
	}
	return errors.Join(errs...)
}

// samples converts a millisecond duration to a sample count at the
// configured rate.
func (c *Config) samples(ms int) int {
	return c.SampleRate * ms / 1000
}

// ---- Session ----------------------------------------------------------------

// Session runs the streaming state machine for one logical connection:
// OPEN → STREAMING → DRAINING → FINALIZING → CLOSED. The transport side is
// the producer (Push / PushPCM / MarkFinished); a single consumer goroutine
// owns all window, scheduler and merger state and performs every inference
// call.
type Session struct {
	cfg Config
	eng engine.Transcriber
	det vad.Detector
	log *slog.Logger
	obs *observe.Metrics

	ring   *Ring
	cancel *CancelFlag

	partials chan Transcript
	finals   chan Transcript

	mu    sync.Mutex
	state State

	done    chan struct{} // closed when the consumer loop exits
	eofOnce sync.Once
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*Session)

// WithDetector sets the voice-activity detector. Required for ModeVAD.
func WithDetector(d vad.Detector) SessionOption {
	return func(s *Session) { s.det = d }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) SessionOption {
	return func(s *Session) { s.obs = m }
}

// NewSession validates cfg, allocates all per-session state and starts the
// consumer goroutine. The context cancels the session: cancellation is
// treated like end-of-stream and runs the normal draining and finalizing
// path. Transcript events arrive on Partials and Finals; both channels are
// closed after the final event.
func NewSession(ctx context.Context, cfg Config, eng engine.Transcriber, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream: invalid config: %w", err)
	}
	if eng == nil {
		return nil, errors.New("stream: transcriber must not be nil")
	}

	s := &Session{
		cfg:      cfg,
		eng:      eng,
		ring:     NewRing(),
		cancel:   &CancelFlag{},
		partials: make(chan Transcript, 64),
		finals:   make(chan Transcript, 1),
		state:    StateOpen,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.obs == nil {
		s.obs = observe.DefaultMetrics()
	}
	if s.cfg.Mode == ModeVAD && s.det == nil {
		return nil, errors.New("stream: mode vad requires a detector, use WithDetector")
	}

	go s.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			s.MarkFinished()
		case <-s.done:
		}
	}()
	return s, nil
}

// Push appends normalized float32 samples to the session's ring buffer. It
// never blocks; audio pushed after MarkFinished is discarded.
func (s *Session) Push(samples []float32) {
	s.ring.Push(samples)
}

// PushPCM converts 16-bit little-endian signed PCM to float32 and pushes it.
func (s *Session) PushPCM(pcm []byte) {
	s.ring.Push(audio.PCMToFloat32(pcm))
}

// MarkFinished signals end-of-stream: no more audio will arrive. It is
// idempotent. The first call also fires the cancellation flag so an
// in-flight partial inference returns early instead of finishing a
// now-useless pass.
func (s *Session) MarkFinished() {
	s.eofOnce.Do(func() {
		s.cancel.Cancel()
		s.ring.MarkFinished()
	})
}

// Partials returns the channel of interim transcripts. Each value carries
// the full accumulated text so far. Slow readers lose intermediate values;
// order is preserved.
func (s *Session) Partials() <-chan Transcript { return s.partials }

// Finals returns the channel that carries the single authoritative
// transcript, emitted after the last partial.
func (s *Session) Finals() <-chan Transcript { return s.finals }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close marks the stream finished and blocks until the session has emitted
// its final transcript and released all per-session state.
func (s *Session) Close() error {
	s.MarkFinished()
	<-s.done
	return nil
}

// Done returns a channel closed once the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run is the consumer goroutine: the whole state machine lives here, and
// all mutable window, scheduler and merger state is confined to it.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.finals)
	defer close(s.partials)

	s.obs.ActiveSessions.Add(ctx, 1)
	defer s.obs.ActiveSessions.Add(ctx, -1)

	win := newWindowState(s.cfg.samples(s.cfg.KeepMs), s.cfg.samples(s.cfg.LengthMs), s.cfg.samples(s.cfg.StepMs))
	sched := newScheduler(
		time.Duration(s.cfg.StepMs)*time.Millisecond,
		time.Duration(s.cfg.MinStepMs)*time.Millisecond,
		time.Duration(s.cfg.MaxStepMs)*time.Millisecond,
		s.cfg.Alpha, s.cfg.SafetyFactor,
	)
	g := &gate{
		mode:       s.cfg.Mode,
		ring:       s.ring,
		det:        s.det,
		sampleRate: s.cfg.SampleRate,
		probe:      s.cfg.samples(s.cfg.ProbeMs),
		target:     s.cfg.samples(s.cfg.LengthMs),
	}
	var m merger
	capSamples := s.cfg.samples(s.cfg.BufferCapMs)

	s.setState(StateStreaming)
	for {
		// Backpressure: the consumer enforces the soft cap so the producer
		// never blocks. Dropping oldest audio is a policy event, not an
		// error.
		if excess := s.ring.Len() - capSamples; excess > 0 {
			dropped := s.ring.DropOldest(excess)
			s.obs.DroppedSamples.Add(ctx, int64(dropped))
			s.log.Warn("ring buffer over capacity, dropped oldest audio",
				"dropped_samples", dropped,
				"cap_ms", s.cfg.BufferCapMs,
			)
		}

		step := int(sched.current() * time.Duration(s.cfg.SampleRate) / time.Second)
		batch, fresh, ok := g.next(step)
		win.accumulate(fresh)
		if !ok {
			break
		}
		if len(batch) == 0 {
			continue
		}

		// VAD windows carry their own trailing context from the gate;
		// only fixed cadence uses overlap-save splicing.
		window := batch
		if s.cfg.Mode == ModeFixed {
			window = win.assemble(batch)
		}
		s.obs.RecordWindow(ctx, string(s.cfg.Mode))

		s.cancel.Arm()
		start := time.Now()
		segs, err := s.eng.Transcribe(ctx, window, s.cancel.Cancelled)
		dur := time.Since(start)
		s.obs.RecordInference(ctx, "partial", dur.Seconds())

		if s.cfg.Mode == ModeFixed {
			sched.observe(dur)
		}

		if err != nil {
			// Engine failure means no text for this window, never a dead
			// session.
			s.obs.RecordEngineError(ctx, "partial")
			s.log.Warn("engine call failed, skipping window",
				"error", err,
				"window_samples", len(window),
			)
			continue
		}

		if text := engine.Text(segs); text != "" {
			s.emitPartial(ctx, m.merge(text))
		}
	}

	// DRAINING: flush whatever is still buffered into the session audio
	// without running further partial inference.
	s.setState(StateDraining)
	win.accumulate(s.ring.PopAll())

	// FINALIZING: one full-context pass over the whole session audio, with
	// cancellation disabled so it always completes. Its result replaces the
	// accumulated partials.
	s.setState(StateFinalizing)
	final := m.current()
	if all := win.all(); len(all) > 0 {
		s.cancel.Arm()
		// The final pass must complete even when the session context was
		// the end-of-stream trigger.
		finalCtx := context.WithoutCancel(ctx)
		start := time.Now()
		segs, err := s.eng.Transcribe(finalCtx, all, nil)
		s.obs.RecordInference(ctx, "final", time.Since(start).Seconds())
		if err != nil {
			// Keep the merged partials rather than losing the session.
			s.obs.RecordEngineError(ctx, "final")
			s.log.Error("final pass failed, keeping merged partials",
				"error", err,
				"audio_samples", len(all),
			)
		} else {
			m.replace(engine.Text(segs))
			final = m.current()
		}
	}

	s.finals <- Transcript{Text: final, IsFinal: true}
	s.obs.RecordTranscript(ctx, "final")

	win.reset()
	s.setState(StateClosed)
}

// emitPartial delivers an interim transcript without ever blocking the
// consumer loop; a full channel drops the value.
func (s *Session) emitPartial(ctx context.Context, text string) {
	select {
	case s.partials <- Transcript{Text: text}:
		s.obs.RecordTranscript(ctx, "partial")
	default:
	}
}
