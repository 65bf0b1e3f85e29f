// This file contains the Transcriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

// Package whispercpp implements engine.Transcriber with the whisper.cpp Go
// bindings. The model is loaded once at construction and shared across all
// calls; each call creates its own whisper context, so concurrent sessions
// do not interfere.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/voxpipe/voxpipe/pkg/engine"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Engine satisfies engine.Transcriber.
var _ engine.Transcriber = (*Engine)(nil)

const (
	defaultLanguage = "en"
	warmupSamples   = 16000 // 1 s of silence at 16 kHz
)

// Engine runs whisper.cpp inference over float32 PCM buffers.
type Engine struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithThreads sets the number of CPU threads per inference call. 0 leaves
// the bindings' default in place.
func WithThreads(n uint) Option {
	return func(e *Engine) { e.threads = n }
}

// New loads the whisper.cpp model from the given file path. The caller must
// call Close when the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}

	e := &Engine{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Warmup runs one inference over a second of silence so the first real call
// does not pay backend initialisation cost.
func (e *Engine) Warmup(ctx context.Context) error {
	_, err := e.Transcribe(ctx, make([]float32, warmupSamples), nil)
	return err
}

// Close releases the whisper model. Must be called when the engine is no
// longer needed.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe runs one blocking inference call over samples. abort is polled
// through the bindings' encoder-begin hook: when it reports true the call
// stops before the next encoder pass and returns the segments produced so
// far. A nil abort never stops early.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, abort func() bool) ([]engine.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whispercpp: context already cancelled: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using default", "language", e.language, "error", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	var encoderBegin whisperlib.EncoderBeginCallback
	if abort != nil {
		encoderBegin = func() bool { return !abort() }
	}

	start := time.Now()
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var segments []engine.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		segments = append(segments, engine.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	slog.Debug("whispercpp inference complete",
		"samples", len(samples),
		"segments", len(segments),
		"duration", time.Since(start),
	)
	return segments, nil
}
