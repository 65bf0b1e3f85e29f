package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"layeh.com/gopus"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/stream"
)

// opusMaxFrameMs is the largest Opus frame duration the decoder accepts.
const opusMaxFrameMs = 120

// WSServer upgrades HTTP requests to WebSocket transcription sessions.
//
// Binary frames carry audio: raw s16le PCM with [config.CodecPCM], one Opus
// packet per frame with [config.CodecOpus]. An empty binary frame signals end
// of stream. The server sends each transcript as a JSON text frame and closes
// the connection normally after the final one.
type WSServer struct {
	deps  Deps
	codec config.Codec
}

// NewWSServer creates a WebSocket server using deps for every connection.
func NewWSServer(deps Deps, codec config.Codec) *WSServer {
	if codec == "" {
		codec = config.CodecPCM
	}
	return &WSServer{deps: deps, codec: codec}
}

// ServeHTTP implements http.Handler.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.deps.logger().Warn("websocket accept failed", "err", err)
		return
	}

	id := newSessionID()
	log := s.deps.logger().With("session_id", id, "remote", r.RemoteAddr)

	if err := s.handle(r.Context(), conn, id, log); err != nil {
		log.Warn("websocket session ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session finished")
}

func (s *WSServer) handle(ctx context.Context, conn *websocket.Conn, id string, log *slog.Logger) error {
	sess, err := s.deps.newSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.Close()

	var dec *gopus.Decoder
	if s.codec == config.CodecOpus {
		dec, err = gopus.NewDecoder(s.deps.Stream.SampleRate, 1)
		if err != nil {
			return fmt.Errorf("create opus decoder: %w", err)
		}
	}

	log.Info("websocket session started", "codec", string(s.codec))

	var samplesIn atomic.Int64

	g, ctx := errgroup.WithContext(ctx)

	// Reader: WebSocket frames → session.
	g.Go(func() error {
		defer sess.MarkFinished()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				// Client closed or context cancelled; either way the
				// audio is over.
				return nil
			}
			if typ != websocket.MessageBinary {
				continue
			}
			if len(data) == 0 {
				// End-of-stream marker.
				return nil
			}
			n, err := pushFrame(sess, dec, data, s.deps.Stream.SampleRate)
			if err != nil {
				return err
			}
			samplesIn.Add(int64(n))
		}
	})

	// Writer: session → JSON text frames. Partials are drained to closure
	// before the final is read, so the frame order is always every partial,
	// then the final. The session closes the partial channel before
	// delivering the final, and a failed write stops emission without
	// skipping persistence.
	g.Go(func() error {
		var writeErr error
		for t := range sess.Partials() {
			if writeErr != nil {
				continue
			}
			if err := writeJSONFrame(ctx, conn, t); err != nil {
				writeErr = fmt.Errorf("write partial: %w", err)
			}
		}
		t, ok := <-sess.Finals()
		if !ok {
			return writeErr
		}
		// Persist before writing: the client may already be gone, and the
		// transcript should survive either way.
		secs := float64(samplesIn.Load()) / float64(s.deps.Stream.SampleRate)
		s.deps.persistFinal(context.WithoutCancel(ctx), id, t, secs)
		if writeErr != nil {
			return writeErr
		}
		if err := writeJSONFrame(ctx, conn, t); err != nil {
			return fmt.Errorf("write final: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("websocket session finished")
	return nil
}

// pushFrame decodes one binary frame into the session and returns the number
// of samples pushed. A nil decoder means raw PCM frames.
func pushFrame(sess *stream.Session, dec *gopus.Decoder, data []byte, sampleRate int) (int, error) {
	if dec == nil {
		sess.PushPCM(data)
		return len(data) / 2, nil
	}

	frameSize := sampleRate * opusMaxFrameMs / 1000
	pcm, err := dec.Decode(data, frameSize, false)
	if err != nil {
		return 0, fmt.Errorf("decode opus packet: %w", err)
	}
	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = float32(v) / 32768
	}
	sess.Push(samples)
	return len(samples), nil
}

func writeJSONFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
