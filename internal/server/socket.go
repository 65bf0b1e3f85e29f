package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// pcmReadSize is the read buffer size for the raw socket transport. At
// 16 kHz mono s16le this is 128 ms of audio per read.
const pcmReadSize = 4096

// SocketServer serves the raw streaming protocol: the client writes 16-bit
// little-endian mono PCM at the configured sample rate and reads back
// newline-delimited JSON transcript objects. Half-closing the write side (or
// disconnecting) ends the stream; the server replies with the final
// transcript and closes the connection.
type SocketServer struct {
	deps Deps
}

// NewSocketServer creates a socket server using deps for every connection.
func NewSocketServer(deps Deps) *SocketServer {
	return &SocketServer{deps: deps}
}

// Serve accepts connections from ln until ctx is cancelled or the listener
// fails. Each connection is handled on its own goroutine; Serve blocks until
// all of them have drained.
func (s *SocketServer) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	// Unblock Accept when ctx is cancelled.
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("server: accept: %w", err)
			}
			g.Go(func() error {
				s.handleConn(ctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

// handleConn runs one session over conn.
func (s *SocketServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := newSessionID()
	log := s.deps.logger().With("session_id", id, "remote", conn.RemoteAddr().String())

	sess, err := s.deps.newSession(ctx)
	if err != nil {
		log.Error("failed to start session", "err", err)
		return
	}
	defer sess.Close()

	log.Info("socket session started")

	var bytesIn atomic.Int64

	g, ctx := errgroup.WithContext(ctx)

	// Reader: socket → session.
	g.Go(func() error {
		defer sess.MarkFinished()
		buf := make([]byte, pcmReadSize)
		var carry []byte
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				bytesIn.Add(int64(n))
				chunk := append(carry, buf[:n]...)
				// Samples are two bytes; hold back a trailing odd byte.
				even := len(chunk) &^ 1
				sess.PushPCM(chunk[:even])
				carry = append(carry[:0], chunk[even:]...)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read audio: %w", err)
			}
		}
	})

	// Writer: session → socket, one JSON object per line. Partials are
	// drained to closure before the final is read, so the wire order is
	// always every partial, then the final. The session closes the partial
	// channel before delivering the final, and a failed write stops
	// emission without skipping persistence.
	g.Go(func() error {
		enc := json.NewEncoder(conn)
		var writeErr error
		for t := range sess.Partials() {
			if writeErr != nil {
				continue
			}
			if err := enc.Encode(t); err != nil {
				writeErr = fmt.Errorf("write partial: %w", err)
			}
		}
		t, ok := <-sess.Finals()
		if !ok {
			return writeErr
		}
		// Persist before writing: the client may already be gone, and the
		// transcript should survive either way.
		secs := audioSeconds(bytesIn.Load(), s.deps.Stream.SampleRate)
		s.deps.persistFinal(context.WithoutCancel(ctx), id, t, secs)
		if writeErr != nil {
			return writeErr
		}
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("write final: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Warn("socket session ended with error", "err", err)
		return
	}
	log.Info("socket session finished")
}

// audioSeconds converts a count of s16le bytes into seconds of audio.
func audioSeconds(byteCount int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(byteCount/2) / float64(sampleRate)
}
