package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/server"
	storemock "github.com/voxpipe/voxpipe/internal/store/mock"
	"github.com/voxpipe/voxpipe/internal/stream"
	"github.com/voxpipe/voxpipe/pkg/engine"
	enginemock "github.com/voxpipe/voxpipe/pkg/engine/mock"
)

// dialWS connects to a httptest server wrapping a WSServer.
func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// readTranscripts reads JSON text frames until the final transcript or the
// connection closes.
func readTranscripts(t *testing.T, conn *websocket.Conn) []stream.Transcript {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []stream.Transcript
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return out
		}
		if typ != websocket.MessageText {
			continue
		}
		var tr stream.Transcript
		if err := json.Unmarshal(data, &tr); err != nil {
			t.Fatalf("bad transcript frame %q: %v", data, err)
		}
		out = append(out, tr)
		if tr.IsFinal {
			return out
		}
	}
}

func TestWSServer_PCMSession(t *testing.T) {
	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "testing one"}}},
			{Segments: []engine.Segment{{Text: "testing one two"}}},
		},
	}
	st := &storemock.Store{}

	ws := server.NewWSServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: eng,
		Store:  st,
	}, config.CodecPCM)

	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialWS(t, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageBinary, pcmBytes(300, 1000)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	// Empty binary frame ends the stream.
	if err := conn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		t.Fatalf("write end-of-stream: %v", err)
	}

	trs := readTranscripts(t, conn)
	if len(trs) == 0 {
		t.Fatal("no transcripts received")
	}
	final := trs[len(trs)-1]
	if !final.IsFinal {
		t.Fatalf("last transcript should be final, got %+v", final)
	}
	if final.Text != "testing one two" {
		t.Errorf("final text: got %q, want %q", final.Text, "testing one two")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(st.Records()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	recs := st.Records()
	if len(recs) != 1 {
		t.Fatalf("store records: got %d, want 1", len(recs))
	}
	if recs[0].Text != "testing one two" {
		t.Errorf("stored text: got %q", recs[0].Text)
	}
}

func TestWSServer_OpusSession(t *testing.T) {
	const sampleRate = 16000

	cfg := stream.Config{
		SampleRate: sampleRate,
		Mode:       stream.ModeFixed,
		StepMs:     250,
		LengthMs:   500,
		KeepMs:     100,
		MinStepMs:  250,
		MaxStepMs:  1000,
	}

	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "opus audio"}}},
		},
	}

	ws := server.NewWSServer(server.Deps{
		Stream: cfg,
		Engine: eng,
	}, config.CodecOpus)

	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialWS(t, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("create opus encoder: %v", err)
	}

	ctx := context.Background()

	// One second of audio as 20 ms Opus packets.
	const frameSize = sampleRate / 50
	frame := make([]int16, frameSize)
	for i := range frame {
		frame[i] = int16(2000 * (i % 2))
	}
	for i := 0; i < 50; i++ {
		packet, err := enc.Encode(frame, frameSize, 4000)
		if err != nil {
			t.Fatalf("encode frame: %v", err)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		t.Fatalf("write end-of-stream: %v", err)
	}

	trs := readTranscripts(t, conn)
	if len(trs) == 0 {
		t.Fatal("no transcripts received")
	}
	final := trs[len(trs)-1]
	if !final.IsFinal || final.Text != "opus audio" {
		t.Errorf("final transcript: got %+v", final)
	}

	// The engine must have seen decoded PCM, not Opus packets.
	if eng.CallCount() == 0 {
		t.Fatal("engine was never called")
	}
	calls := eng.TranscribeCalls
	if len(calls[0].Samples) == 0 {
		t.Error("engine received no samples")
	}
}

func TestWSServer_TextFramesIgnored(t *testing.T) {
	eng := &enginemock.Transcriber{
		Results: []enginemock.Result{
			{Segments: []engine.Segment{{Text: "still works"}}},
		},
	}

	ws := server.NewWSServer(server.Deps{
		Stream: testStreamConfig(),
		Engine: eng,
	}, config.CodecPCM)

	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn := dialWS(t, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	ctx := context.Background()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"hello":"ignored"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, pcmBytes(200, 800)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, nil); err != nil {
		t.Fatalf("write end-of-stream: %v", err)
	}

	trs := readTranscripts(t, conn)
	if len(trs) == 0 {
		t.Fatal("no transcripts received")
	}
	if got := trs[len(trs)-1].Text; got != "still works" {
		t.Errorf("final text: got %q, want %q", got, "still works")
	}
}
