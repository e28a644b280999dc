package bus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

// AudioSource turns protocol.AudioFrame messages into capture frames. Only
// mono frames at the configured sample rate are accepted; frames from one
// subject are assumed to come from one device.
type AudioSource struct {
	sub        *nats.Subscription
	frames     chan audio.Frame
	done       chan struct{}
	closeOnce  sync.Once
	sampleRate int
	rejected   atomic.Uint64
	log        *slog.Logger
}

// SubscribeAudio starts receiving frames on subject. buffer bounds the
// frames held between the NATS callback and Read; excess frames are dropped.
func (c *Client) SubscribeAudio(subject string, sampleRate, buffer int) (*AudioSource, error) {
	if buffer <= 0 {
		buffer = 64
	}
	src := &AudioSource{
		frames:     make(chan audio.Frame, buffer),
		done:       make(chan struct{}),
		sampleRate: sampleRate,
		log:        c.log.With(slog.String("subject", subject)),
	}
	sub, err := c.conn.Subscribe(subject, src.handleFrame)
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	src.sub = sub
	c.log.Info("receiving audio from bus", slog.String("subject", subject))
	return src, nil
}

func (s *AudioSource) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.reject("failed to decode audio frame", slogError(err))
		return
	}
	if frame.Channels > 1 || (frame.SampleRate != 0 && frame.SampleRate != s.sampleRate) {
		s.reject("unsupported audio frame format",
			slog.Int("sample_rate", frame.SampleRate),
			slog.Int("channels", frame.Channels))
		return
	}
	if len(frame.PCM) < 2 {
		return
	}
	samples := make([]int16, len(frame.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(frame.PCM[2*i:]))
	}
	select {
	case s.frames <- audio.Frame{Samples: samples, CapturedAt: time.Now()}:
	case <-s.done:
	default:
		s.reject("audio frame buffer full", slog.String("session_id", frame.SessionID))
	}
}

func (s *AudioSource) reject(msg string, attrs ...any) {
	// First rejection and every hundredth after it.
	if n := s.rejected.Add(1); n == 1 || n%100 == 0 {
		s.log.Warn(msg, append(attrs, slog.Uint64("rejected", n))...)
	}
}

// Rejected counts frames that could not be used.
func (s *AudioSource) Rejected() uint64 {
	return s.rejected.Load()
}

func (s *AudioSource) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return audio.Frame{}, io.EOF
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

func (s *AudioSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
	})
	return err
}

var _ audio.Source = (*AudioSource)(nil)
