// Package protocol defines the JSON messages the listener exchanges over the
// bus.
package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices. PCM is
// little-endian signed 16-bit.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// CycleStarted announces that the hotword fired and the node is listening.
type CycleStarted struct {
	CycleID   string    `json:"cycle_id"`
	Node      string    `json:"node"`
	Hotword   string    `json:"hotword"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript represents recognized text broadcast on the bus. Partial
// transcripts carry one accepted segment; the final one carries the whole
// normalized cycle text.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Node      string    `json:"node"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Chunk     int       `json:"chunk"`
	Timestamp time.Time `json:"timestamp"`
}

// FilteredSegment reports recognized text rejected as a recognition
// artifact.
type FilteredSegment struct {
	SessionID string    `json:"session_id"`
	Node      string    `json:"node"`
	Text      string    `json:"text"`
	Rule      string    `json:"rule"`
	Chunk     int       `json:"chunk"`
	Timestamp time.Time `json:"timestamp"`
}

// CycleSummary describes a finished cycle.
type CycleSummary struct {
	CycleID    string    `json:"cycle_id"`
	Node       string    `json:"node"`
	Transcript string    `json:"transcript"`
	Words      int       `json:"words"`
	DurationMS int64     `json:"duration_ms"`
	Chunks     int       `json:"chunks"`
	Skipped    int       `json:"skipped"`
	Filtered   int       `json:"filtered"`
	Reason     string    `json:"reason"`
	Aborted    bool      `json:"aborted,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix   = "audio.frame"
	SubjectCycleStarted       = "stt.cycle.started"
	SubjectCycleSummary       = "stt.cycle.summary"
	SubjectTranscriptPartial  = "stt.text.partial"
	SubjectTranscriptFinal    = "stt.text.final"
	SubjectTranscriptFiltered = "stt.text.filtered"
)
