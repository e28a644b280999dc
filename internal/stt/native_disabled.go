//go:build !whisper

package stt

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-listen/internal/config"
)

// NewNativeEngine reports that in-process recognition was not compiled in.
// Build with -tags whisper and libwhisper available to enable it.
func NewNativeEngine(cfg config.STTConfig, log *slog.Logger) (Engine, error) {
	return nil, fmt.Errorf("%w: built without the whisper tag", ErrEngineUnavailable)
}
