//go:build !noportaudio

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures mono frames from the default input device.
type PortAudioSource struct {
	stream *portaudio.Stream
	buf    []int16
	log    *slog.Logger
	once   sync.Once
}

// OpenPortAudio initializes PortAudio and starts the default input stream.
// A failure here means there is no usable capture device.
func OpenPortAudio(sampleRate, frameSamples int, log *slog.Logger) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	buf := make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	log.Info("audio capture started",
		slog.String("source", "portaudio"),
		slog.Int("sample_rate", sampleRate),
		slog.Int("frame_samples", frameSamples))
	return &PortAudioSource{stream: stream, buf: buf, log: log}, nil
}

func (s *PortAudioSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if err := s.stream.Read(); err != nil {
		// An overflow means the device ring lost samples before this read;
		// the buffer still holds a valid frame.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return Frame{}, fmt.Errorf("portaudio read: %w", err)
		}
		s.log.Warn("audio input overflowed")
	}
	samples := make([]int16, len(s.buf))
	copy(samples, s.buf)
	return Frame{Samples: samples, CapturedAt: time.Now()}, nil
}

func (s *PortAudioSource) Close() error {
	var err error
	s.once.Do(func() {
		err = errors.Join(s.stream.Stop(), s.stream.Close(), portaudio.Terminate())
	})
	return err
}
