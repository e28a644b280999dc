package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.ChunkSamples != 48000 {
		t.Fatalf("expected default chunk of 48000 samples, got %d", cfg.Session.ChunkSamples)
	}
	if cfg.Session.SubsequentOverlap > cfg.Session.FirstOverlap {
		t.Fatalf("default overlaps must shrink: first=%v subsequent=%v", cfg.Session.FirstOverlap, cfg.Session.SubsequentOverlap)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16 kHz default, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listen.yaml")
	data := []byte(`
runtime_name: kitchen
session:
  chunk_samples: 32000
  silence_frames: 20
stt:
  mode: mock
  language: de
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "kitchen" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Session.ChunkSamples != 32000 || cfg.Session.SilenceFrames != 20 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.MinRMS != 50 {
		t.Fatalf("expected unspecified fields to keep defaults, got min_rms=%v", cfg.Session.MinRMS)
	}
	if cfg.STT.Mode != "mock" || cfg.STT.Language != "de" {
		t.Fatalf("unexpected stt config: %+v", cfg.STT)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_SESSION_CHUNK_SAMPLES", "32000")
	t.Setenv("LOQA_SESSION_SKIPPED_OVERLAP", "0.125")
	t.Setenv("LOQA_STT_MODE", "native")
	t.Setenv("LOQA_STT_GPU_LAYERS", "35")
	t.Setenv("LOQA_CONSOLE_QUIET", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Session.ChunkSamples != 32000 {
		t.Fatalf("expected chunk override, got %d", cfg.Session.ChunkSamples)
	}
	if cfg.Session.SkippedOverlap != 0.125 {
		t.Fatalf("expected skipped overlap override, got %v", cfg.Session.SkippedOverlap)
	}
	if cfg.STT.Mode != "native" || cfg.STT.GPULayers != 35 {
		t.Fatalf("expected stt overrides, got %+v", cfg.STT)
	}
	if !cfg.Console.Quiet {
		t.Fatal("expected quiet override")
	}
}

func TestValidateRejectsGrowingOverlap(t *testing.T) {
	cfg := Default()
	cfg.Session.SubsequentOverlap = cfg.Session.FirstOverlap * 2
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when subsequent overlap exceeds first overlap")
	}
}

func TestValidateRejectsSmallSkippedOverlap(t *testing.T) {
	cfg := Default()
	cfg.Session.SkippedOverlap = cfg.Session.FirstOverlap / 2
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when skipped overlap is below first overlap")
	}
}

func TestValidateRequiresWAVPath(t *testing.T) {
	cfg := Default()
	cfg.Audio.Source = "wav"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for wav source without input path")
	}
	cfg.Audio.InputPath = "capture.wav"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownEngine(t *testing.T) {
	cfg := Default()
	cfg.STT.Mode = "cloud"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown stt mode")
	}
}
