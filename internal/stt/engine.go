package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-listen/internal/config"
)

var (
	// ErrEngineUnavailable marks a recognition backend that cannot run at all,
	// such as a missing executable.
	ErrEngineUnavailable = errors.New("stt: engine unavailable")
	// ErrModelMissing marks a model file that does not exist.
	ErrModelMissing = errors.New("stt: model not found")
)

// Quality carries engine tuning values. Engines apply what they support and
// ignore the rest.
type Quality struct {
	BeamSize          int
	BestOf            int
	NoSpeechThreshold float64
	WordThreshold     float64
	GPULayers         int
	Threads           int
}

// Request is one bounded buffer of mono PCM to recognize.
type Request struct {
	Samples    []int16
	SampleRate int
	Language   string
	Quality    Quality
	// Final marks the end-of-cycle pass over the remaining buffer.
	Final bool
}

// Result holds recognized text, one entry per engine segment.
type Result struct {
	Segments []string
}

func (r Result) Text() string {
	return strings.Join(r.Segments, " ")
}

func (r Result) Empty() bool {
	for _, s := range r.Segments {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// Engine abstracts recognition backends.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}

// QualityFromConfig maps configuration onto engine tuning values.
func QualityFromConfig(cfg config.STTConfig) Quality {
	return Quality{
		BeamSize:          cfg.BeamSize,
		BestOf:            cfg.BestOf,
		NoSpeechThreshold: cfg.NoSpeechThreshold,
		WordThreshold:     cfg.WordThreshold,
		GPULayers:         cfg.GPULayers,
		Threads:           cfg.Threads,
	}
}

// New builds the engine selected by cfg.Mode. Errors are startup failures.
func New(cfg config.STTConfig, log *slog.Logger) (Engine, error) {
	var (
		engine Engine
		err    error
	)
	switch cfg.Mode {
	case "exec":
		engine, err = NewExecEngine(cfg, log)
	case "native":
		engine, err = NewNativeEngine(cfg, log)
	case "mock":
		engine = NewMockEngine()
	default:
		err = fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
