package session

import (
	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
)

// Gate rejection reasons.
const (
	ReasonQuiet    = "below_min_rms"
	ReasonInactive = "below_activity_ratio"
)

// GateResult reports whether a chunk is worth recognizing and the measures
// the decision was based on.
type GateResult struct {
	Accepted      bool
	RMS           float64
	ActivityRatio float64
	Reason        string
}

// SpeechGate is a cheap energy check run before every recognition call.
type SpeechGate struct {
	minRMS    float64
	amplitude int
	minRatio  float64
}

func NewSpeechGate(cfg config.SessionConfig) SpeechGate {
	return SpeechGate{
		minRMS:    cfg.MinRMS,
		amplitude: cfg.ActivityAmplitude,
		minRatio:  cfg.MinActivityRatio,
	}
}

func (g SpeechGate) Evaluate(chunk []int16) GateResult {
	res := GateResult{RMS: audio.RMS(chunk)}
	if res.RMS < g.minRMS {
		res.Reason = ReasonQuiet
		return res
	}
	res.ActivityRatio = audio.ActivityRatio(chunk, g.amplitude)
	if res.ActivityRatio < g.minRatio {
		res.Reason = ReasonInactive
		return res
	}
	res.Accepted = true
	return res
}
