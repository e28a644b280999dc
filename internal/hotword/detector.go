package hotword

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
)

// Detector reports whether the hotword fired on a frame. Implementations
// keep their own state across frames; Reset clears it.
type Detector interface {
	Name() string
	Detect(frame []int16) (bool, error)
	Reset()
}

// New builds the detector selected by cfg.Mode.
func New(cfg config.HotwordConfig) (Detector, error) {
	switch cfg.Mode {
	case "energy":
		return NewEnergyDetector(Label(cfg.Resource), cfg.TriggerRMS, cfg.TriggerFrames), nil
	case "always":
		return Always{}, nil
	default:
		return nil, fmt.Errorf("unsupported hotword mode %q", cfg.Mode)
	}
}

// Label derives a spoken label from a hotword resource name, so
// "models/hey_loqa.pmdl" becomes "hey loqa".
func Label(resource string) string {
	base := filepath.Base(resource)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "unknown"
	}
	return strings.ReplaceAll(base, "_", " ")
}

// EnergyDetector fires after a run of consecutive loud frames. It stands in
// for a keyword model on devices where only a level trigger is available.
type EnergyDetector struct {
	label  string
	level  float64
	frames int
	run    int
}

func NewEnergyDetector(label string, level float64, frames int) *EnergyDetector {
	if frames <= 0 {
		frames = 1
	}
	return &EnergyDetector{label: label, level: level, frames: frames}
}

func (d *EnergyDetector) Name() string { return d.label }

func (d *EnergyDetector) Detect(frame []int16) (bool, error) {
	if audio.RMS(frame) >= d.level {
		d.run++
	} else {
		d.run = 0
	}
	if d.run >= d.frames {
		d.run = 0
		return true, nil
	}
	return false, nil
}

func (d *EnergyDetector) Reset() { d.run = 0 }

// Always fires on every frame, turning the listener into continuous
// dictation.
type Always struct{}

func (Always) Name() string                 { return "always" }
func (Always) Detect([]int16) (bool, error) { return true, nil }
func (Always) Reset()                       {}
