// Package audio holds the capture side of the listener: frame sources, the
// bounded queue that decouples capture from processing, and a few PCM
// helpers shared by the detectors and the speech gate.
package audio

import (
	"math"
	"time"
)

// Frame is one block of mono 16-bit PCM samples produced by a Source.
type Frame struct {
	Samples    []int16
	Sequence   uint64
	CapturedAt time.Time
}

// RMS returns the root-mean-square amplitude of samples in PCM units.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		sum += int64(s) * int64(s)
	}
	return math.Sqrt(float64(sum) / float64(len(samples)))
}

// ActivityRatio returns the fraction of samples whose magnitude exceeds
// amplitude.
func ActivityRatio(samples []int16, amplitude int) float64 {
	if len(samples) == 0 {
		return 0
	}
	active := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > amplitude {
			active++
		}
	}
	return float64(active) / float64(len(samples))
}

// Duration converts a sample count to wall time at sampleRate.
func Duration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
