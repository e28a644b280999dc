package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a 16-bit PCM WAV file as fixed-size frames. Multi-channel
// files are down-mixed to mono. The last frame is zero padded.
type WAVSource struct {
	file     *os.File
	dec      *wav.Decoder
	channels int
	frame    int
	buf      *goaudio.IntBuffer
	ticker   *time.Ticker
	done     bool
}

func OpenWAV(path string, sampleRate, frameSamples int, realtime bool) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav input: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("open wav input: %s is not a valid wav file", path)
	}
	if int(dec.SampleRate) != sampleRate {
		f.Close()
		return nil, fmt.Errorf("open wav input: sample rate %d does not match configured %d", dec.SampleRate, sampleRate)
	}
	if dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("open wav input: unsupported bit depth %d", dec.BitDepth)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	src := &WAVSource{
		file:     f,
		dec:      dec,
		channels: channels,
		frame:    frameSamples,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
			Data:   make([]int, frameSamples*channels),
		},
	}
	if realtime {
		src.ticker = time.NewTicker(Duration(frameSamples, sampleRate))
	}
	return src, nil
}

func (s *WAVSource) Read(ctx context.Context) (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.ticker.C:
		}
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Frame{}, fmt.Errorf("decode wav: %w", err)
	}
	perChannel := min(n/s.channels, s.frame)
	if perChannel == 0 {
		s.done = true
		return Frame{}, io.EOF
	}
	// The last frame is short rather than padded, so replayed audio keeps
	// the file's exact length.
	samples := make([]int16, perChannel)
	for i := range samples {
		var sum int
		for ch := 0; ch < s.channels; ch++ {
			sum += s.buf.Data[i*s.channels+ch]
		}
		samples[i] = int16(sum / s.channels)
	}
	if perChannel < s.frame {
		s.done = true
	}
	return Frame{Samples: samples, CapturedAt: time.Now()}, nil
}

func (s *WAVSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return s.file.Close()
}

// WriteWAV encodes mono 16-bit samples as a WAV stream.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
