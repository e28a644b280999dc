// Package vad classifies frames as speech or silence for the session
// controller.
package vad

import (
	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
)

// Class is the outcome of classifying one frame.
type Class int

const (
	Indeterminate Class = iota
	Speech
	Silence
)

func (c Class) String() string {
	switch c {
	case Speech:
		return "speech"
	case Silence:
		return "silence"
	default:
		return "indeterminate"
	}
}

// Classifier labels frames. Classify must not block.
type Classifier interface {
	Classify(frame []int16) Class
	Reset()
}

// RMSClassifier compares frame energy against two levels. Frames between the
// levels fall in a dead band and are reported as Indeterminate so a single
// borderline frame neither extends nor breaks a silence run.
type RMSClassifier struct {
	speech  float64
	silence float64
}

func NewRMSClassifier(cfg config.VADConfig) *RMSClassifier {
	return &RMSClassifier{speech: cfg.SpeechRMS, silence: cfg.SilenceRMS}
}

func (c *RMSClassifier) Classify(frame []int16) Class {
	level := audio.RMS(frame)
	switch {
	case level >= c.speech:
		return Speech
	case level <= c.silence:
		return Silence
	default:
		return Indeterminate
	}
}

func (c *RMSClassifier) Reset() {}
