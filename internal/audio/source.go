package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
)

// Source supplies fixed-size frames of mono 16 kHz PCM. Read blocks until the
// next frame is available. A Source returns io.EOF when it has no more audio.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Open builds the source selected by cfg.Source.
func Open(cfg config.AudioConfig, log *slog.Logger) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Source {
	case "portaudio":
		src, err = OpenPortAudio(cfg.SampleRate, cfg.FrameSamples, log)
	case "wav":
		src, err = OpenWAV(cfg.InputPath, cfg.SampleRate, cfg.FrameSamples, cfg.Realtime)
	default:
		err = fmt.Errorf("unsupported audio source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Capture reads frames from src into q until ctx is done or src fails. The
// queue is closed on return so the consumer drains and stops. Frames are
// dropped when the consumer falls behind.
func Capture(ctx context.Context, src Source, q *FrameQueue) error {
	return pump(ctx, src, q, func(f Frame) error {
		q.Push(f)
		return nil
	})
}

// Replay is Capture without loss: it waits for the consumer when the queue
// is full.
func Replay(ctx context.Context, src Source, q *FrameQueue) error {
	return pump(ctx, src, q, func(f Frame) error {
		return q.PushWait(ctx, f)
	})
}

func pump(ctx context.Context, src Source, q *FrameQueue, push func(Frame) error) error {
	defer q.Close()
	var seq uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		frame, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read audio frame: %w", err)
		}
		frame.Sequence = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}
		seq++
		if err := push(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
