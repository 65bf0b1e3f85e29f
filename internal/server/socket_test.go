package server_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/internal/server"
	storemock "github.com/voxpipe/voxpipe/internal/store/mock"
	"github.com/voxpipe/voxpipe/internal/stream"
	"github.com/voxpipe/voxpipe/pkg/engine"
	enginemock "github.com/voxpipe/voxpipe/pkg/engine/mock"
)

// testStreamConfig keeps windows tiny so tests stream a few hundred samples
// instead of seconds of audio.
func testStreamConfig() stream.Config {
	return stream.Config{
		SampleRate: 1000,
		Mode:       stream.ModeFixed,
		StepMs:     100,
		LengthMs:   300,
		KeepMs:     50,
		MinStepMs:  100,
		MaxStepMs:  1000,
	}
}

// pcmBytes renders n s16le samples of a constant value.
func pcmBytes(n int, value int16) []byte {
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(value))
	}
	return out
}

func TestSocketServer_StreamsTranscripts(t *testing.T) {
	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "hello"}}},
			{Segments: []engine.Segment{{Text: "hello world"}}},
		},
	}
	st := &storemock.Store{}

	srv := server.NewSocketServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: eng,
		Store:  st,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Stream 300 ms of audio, then half-close to end the stream.
	if _, err := conn.Write(pcmBytes(300, 1000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}

	var lines []stream.Transcript
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var tr stream.Transcript
		if err := json.Unmarshal(sc.Bytes(), &tr); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		lines = append(lines, tr)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(lines) == 0 {
		t.Fatal("no transcripts received")
	}
	final := lines[len(lines)-1]
	if !final.IsFinal {
		t.Errorf("last line should be final, got %+v", final)
	}
	if final.Text != "hello world" {
		t.Errorf("final text: got %q, want %q", final.Text, "hello world")
	}
	for _, l := range lines[:len(lines)-1] {
		if l.IsFinal {
			t.Errorf("only the last line may be final, got %+v", l)
		}
	}

	// The final transcript must be persisted.
	deadline := time.Now().Add(2 * time.Second)
	for len(st.Records()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	recs := st.Records()
	if len(recs) != 1 {
		t.Fatalf("store records: got %d, want 1", len(recs))
	}
	if recs[0].Text != "hello world" {
		t.Errorf("stored text: got %q", recs[0].Text)
	}
	if recs[0].SessionID == "" {
		t.Error("stored record should carry a session id")
	}
	if recs[0].AudioSeconds < 0.29 || recs[0].AudioSeconds > 0.31 {
		t.Errorf("stored audio seconds: got %v, want ~0.3", recs[0].AudioSeconds)
	}

	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSocketServer_AllPartialsPrecedeFinal(t *testing.T) {
	// Even when the client reads late and everything is already queued on
	// the session, the wire carries every partial first and the final last.
	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "one"}}},
			{Segments: []engine.Segment{{Text: "one two"}}},
			{Segments: []engine.Segment{{Text: "one two three"}}},
			{Segments: []engine.Segment{{Text: "one two three, done"}}},
		},
	}

	srv := server.NewSocketServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: eng,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(pcmBytes(300, 1000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}
	// Let the session finish before the first read so partials and final
	// are all pending at once.
	time.Sleep(200 * time.Millisecond)

	var lines []stream.Transcript
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var tr stream.Transcript
		if err := json.Unmarshal(sc.Bytes(), &tr); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		lines = append(lines, tr)
	}

	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 3 partials and a final", len(lines))
	}
	for i, l := range lines[:3] {
		if l.IsFinal {
			t.Errorf("line %d is final, want partial", i)
		}
	}
	if !lines[3].IsFinal || lines[3].Text != "one two three, done" {
		t.Errorf("last line = %+v, want final %q", lines[3], "one two three, done")
	}

	cancel()
	<-served
}

func TestSocketServer_ClientDisconnectFinalizes(t *testing.T) {
	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "partial audio"}}},
		},
	}
	st := &storemock.Store{}

	srv := server.NewSocketServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: eng,
		Store:  st,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write(pcmBytes(150, 500)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	// Abrupt close instead of half-close.
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(st.Records()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	recs := st.Records()
	if len(recs) != 1 {
		t.Fatalf("store records after disconnect: got %d, want 1", len(recs))
	}
	if recs[0].Text != "partial audio" {
		t.Errorf("stored text: got %q", recs[0].Text)
	}

	cancel()
	<-served
}

func TestSocketServer_ServeStopsOnContextCancel(t *testing.T) {
	srv := server.NewSocketServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: &enginemock.Transcriber{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
