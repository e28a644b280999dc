//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/config"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeEngine runs whisper.cpp in process through its Go bindings. The model
// is loaded once; every request gets a fresh context.
type NativeEngine struct {
	model whisperlib.Model
	log   *slog.Logger
	mu    sync.Mutex
}

func NewNativeEngine(cfg config.STTConfig, log *slog.Logger) (*NativeEngine, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelMissing, cfg.ModelPath)
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %q: %v", ErrEngineUnavailable, cfg.ModelPath, err)
	}
	log = log.With(slog.String("component", "stt-native"))
	log.Info("recognition engine ready",
		slog.String("model", cfg.ModelPath),
		slog.Bool("multilingual", model.IsMultilingual()))
	return &NativeEngine{model: model, log: log}, nil
}

func (e *NativeEngine) Name() string { return "native" }

func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

func (e *NativeEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	wctx, err := e.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		e.log.Warn("failed to set language, using default", slog.String("language", lang), slogError(err))
	}
	q := req.Quality
	if q.Threads > 0 {
		wctx.SetThreads(uint(q.Threads))
	}
	if q.BeamSize > 0 {
		wctx.SetBeamSize(q.BeamSize)
	}
	if q.WordThreshold > 0 {
		wctx.SetTokenThreshold(float32(q.WordThreshold))
	}
	wctx.SetTemperature(0)

	if err := wctx.Process(pcmToFloat32(req.Samples), nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			segments = append(segments, text)
		}
	}
	// The bindings cannot interrupt Process; a result that arrives after the
	// caller gave up is discarded.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Segments: segments}, nil
}

// pcmToFloat32 scales 16-bit samples to [-1.0, 1.0).
func pcmToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

var _ Engine = (*NativeEngine)(nil)
