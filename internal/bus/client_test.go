package bus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default().Bus
	cfg.Embedded = true
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "loqa-listen-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "x", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestAudioSourceReceivesFrames(t *testing.T) {
	client := startBus(t)
	src, err := client.SubscribeAudio("audio.frame.kitchen", 16000, 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer src.Close()

	bad := protocol.AudioFrame{SessionID: "s1", SampleRate: 44100, Channels: 1, PCM: pcm(1, 2)}
	good := protocol.AudioFrame{SessionID: "s1", SampleRate: 16000, Channels: 1, PCM: pcm(100, -100, 32767)}
	for _, f := range []protocol.AudioFrame{bad, good} {
		if err := client.PublishJSON("audio.frame.kitchen", f); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []int16{100, -100, 32767}
	if len(frame.Samples) != len(want) {
		t.Fatalf("unexpected samples %v", frame.Samples)
	}
	for i := range want {
		if frame.Samples[i] != want[i] {
			t.Fatalf("unexpected samples %v", frame.Samples)
		}
	}
	if src.Rejected() != 1 {
		t.Fatalf("expected the 44.1 kHz frame to be rejected, got %d", src.Rejected())
	}
}

func TestAudioSourceCloseEndsRead(t *testing.T) {
	client := startBus(t)
	src, err := client.SubscribeAudio("audio.frame.>", 16000, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	client := startBus(t)
	subjects := []string{"stt.>"}
	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("LOQA_LISTEN_TEST", subjects); err != nil {
			t.Fatalf("ensure stream (attempt %d): %v", i+1, err)
		}
	}
	info, err := client.JetStream().StreamInfo("LOQA_LISTEN_TEST")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.Config.Subjects[0] != "stt.>" {
		t.Fatalf("unexpected subjects %v", info.Config.Subjects)
	}
}
