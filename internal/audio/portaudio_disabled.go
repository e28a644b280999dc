//go:build noportaudio

package audio

import (
	"errors"
	"log/slog"
)

// OpenPortAudio is unavailable in builds tagged noportaudio.
func OpenPortAudio(sampleRate, frameSamples int, log *slog.Logger) (Source, error) {
	return nil, errors.New("microphone capture not compiled in (built with noportaudio)")
}
