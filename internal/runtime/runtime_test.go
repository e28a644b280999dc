package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeUtterance writes four seconds of speech-level audio followed by two
// seconds of silence.
func writeUtterance(t *testing.T) string {
	t.Helper()
	samples := make([]int16, 6*16000)
	for i := 0; i < 4*16000; i++ {
		if i%2 == 0 {
			samples[i] = 2000
		} else {
			samples[i] = -2000
		}
	}
	path := filepath.Join(t.TempDir(), "utterance.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func replayConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	cfg.Audio.Source = "wav"
	cfg.Audio.InputPath = writeUtterance(t)
	cfg.Hotword.Mode = "always"
	cfg.STT.Mode = "mock"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "listen.db")
	return cfg
}

func TestReplayProducesTranscript(t *testing.T) {
	cfg := replayConfig(t)
	var console bytes.Buffer
	rt := New(cfg, newLogger(), &console)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	out := console.String()
	if !strings.Contains(out, `Listening for "hey loqa"`) {
		t.Fatalf("expected banner, got %q", out)
	}
	if n := strings.Count(out, "Transcript: "); n != 1 {
		t.Fatalf("expected one final transcript, got %d in %q", n, out)
	}
	if !strings.Contains(out, "chunk of 48000 samples") {
		t.Fatalf("expected mock engine text in %q", out)
	}

	status := rt.controller.Status()
	if status.Cycles < 1 || status.LastTranscript == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if rt.queue.Dropped() != 0 {
		t.Fatalf("file replay must not drop frames, dropped %d", rt.queue.Dropped())
	}
}

func TestStartFailsWithoutEngine(t *testing.T) {
	cfg := replayConfig(t)
	cfg.STT.Mode = "exec"
	cfg.STT.Command = "definitely-not-a-whisper-binary"
	rt := New(cfg, newLogger(), io.Discard)
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("expected startup error for missing engine")
	}
}

func TestStatusRoutes(t *testing.T) {
	cfg := replayConfig(t)
	rt := New(cfg, newLogger(), io.Discard)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	srv := httptest.NewServer(rt.routes(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready after the pipeline stopped, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if status.Engine != "mock" || status.State != "idle" || status.Bus != "disabled" || status.FramesPushed == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	resp, err = http.Get(srv.URL + "/cycles?limit=bogus")
	if err != nil {
		t.Fatalf("cycles: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid limit, got %d", resp.StatusCode)
	}
}
