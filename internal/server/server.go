// Package server exposes streaming transcription sessions over the network.
//
// Three surfaces are provided:
//
//   - [SocketServer]: raw TCP or Unix socket. The client streams 16-bit
//     little-endian PCM and receives newline-delimited JSON transcripts.
//   - [WSServer]: WebSocket. Binary frames carry audio (raw PCM or Opus
//     packets depending on the configured codec), text frames carry JSON
//     transcripts back. An empty binary frame marks end of stream.
//   - [NewAdminMux]: HTTP mux with /metrics, /healthz and /readyz.
//
// Each connection owns exactly one [stream.Session]. Closing the audio input
// (socket half-close, empty WebSocket frame, or disconnect) finalizes the
// session; the final transcript is written to the client and, when a store is
// configured, persisted.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/store"
	"github.com/voxpipe/voxpipe/internal/stream"
	"github.com/voxpipe/voxpipe/pkg/engine"
	"github.com/voxpipe/voxpipe/pkg/vad"
)

// Deps bundles everything a transport needs to run sessions. Engine and
// Stream are required; the rest are optional.
type Deps struct {
	// Stream is the session configuration applied to every connection.
	Stream stream.Config

	// Engine performs the actual transcription.
	Engine engine.Transcriber

	// Detector gates windows on speech activity. Required when Stream.Mode
	// is [stream.ModeVAD], ignored otherwise.
	Detector vad.Detector

	// Store receives final transcripts. Nil disables persistence.
	Store store.TranscriptStore

	// Log defaults to [slog.Default].
	Log *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (d *Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// newSession starts a session for one connection.
func (d *Deps) newSession(ctx context.Context) (*stream.Session, error) {
	opts := []stream.SessionOption{
		stream.WithLogger(d.logger()),
	}
	if d.Detector != nil {
		opts = append(opts, stream.WithDetector(d.Detector))
	}
	if d.Metrics != nil {
		opts = append(opts, stream.WithMetrics(d.Metrics))
	}
	return stream.NewSession(ctx, d.Stream, d.Engine, opts...)
}

// persistFinal writes the final transcript to the store, if one is
// configured. Persistence failures are logged, never surfaced to the client:
// the transcript was already delivered over the wire.
func (d *Deps) persistFinal(ctx context.Context, sessionID string, final stream.Transcript, audioSeconds float64) {
	if d.Store == nil || final.Text == "" {
		return
	}
	rec, err := d.Store.Save(ctx, store.Record{
		SessionID:    sessionID,
		Text:         final.Text,
		AudioSeconds: audioSeconds,
	})
	if err != nil {
		d.logger().Warn("failed to persist final transcript",
			"session_id", sessionID,
			"err", err,
		)
		return
	}
	d.logger().Debug("final transcript persisted",
		"session_id", sessionID,
		"record_id", rec.ID,
	)
	if d.Metrics != nil {
		d.Metrics.RecordTranscript(ctx, "persisted")
	}
}

// newSessionID returns a random 16-hex-char session identifier.
func newSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
