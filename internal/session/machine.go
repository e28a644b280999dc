package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/vad"
)

type State int

const (
	StateIdle State = iota
	StateListening
)

func (s State) String() string {
	if s == StateListening {
		return "listening"
	}
	return "idle"
}

// Finalization reasons.
const (
	ReasonSilence     = "silence"
	ReasonMaxDuration = "max_duration"
	ReasonEndOfInput  = "end_of_input"
	ReasonShutdown    = "shutdown"
)

type ActionKind int

const (
	// ActionTriggered reports a new cycle.
	ActionTriggered ActionKind = iota
	// ActionRecognize asks for Chunk to be recognized and the result passed
	// to Accept.
	ActionRecognize
	// ActionSkipped reports a chunk rejected by the speech gate.
	ActionSkipped
	// ActionFinalize asks for the cycle to be closed: Tail, then Finalize.
	ActionFinalize
)

func (k ActionKind) String() string {
	switch k {
	case ActionTriggered:
		return "triggered"
	case ActionRecognize:
		return "recognize"
	case ActionSkipped:
		return "skipped"
	case ActionFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

type Action struct {
	Kind       ActionKind
	CycleID    string
	ChunkIndex int
	Chunk      []int16
	Gate       GateResult
	Reason     string
}

// Summary describes a closed cycle.
type Summary struct {
	CycleID    string
	StartedAt  time.Time
	Transcript string
	Words      int
	Duration   time.Duration
	Samples    int
	Chunks     int
	Skipped    int
	Filtered   int
	Reason     string
	Aborted    bool
}

// Empty reports whether the cycle produced no transcript.
func (s Summary) Empty() bool {
	return s.Transcript == ""
}

// Machine is the per-process listening state. It holds no devices or
// engines: transitions return the side effects the caller must perform.
// It is not safe for concurrent use.
type Machine struct {
	gate       SpeechGate
	window     *Window
	overlap    OverlapPolicy
	filter     *HallucinationFilter
	transcript Assembler

	sampleRate      int
	silenceFrames   int
	minSpeechFrames int
	maxSamples      int
	minTail         int

	state        State
	cycleID      string
	startedAt    time.Time
	silenceRun   int
	speechRun    int
	chunkIndex   int
	skipped      int
	filtered     int
	totalSamples int
	started      bool

	now   func() time.Time
	newID func() string
}

func NewMachine(cfg config.SessionConfig, sampleRate int) *Machine {
	return &Machine{
		gate:   NewSpeechGate(cfg),
		window: NewWindow(cfg.ChunkSamples),
		overlap: OverlapPolicy{
			First:      cfg.FirstOverlap,
			Subsequent: cfg.SubsequentOverlap,
			Skipped:    cfg.SkippedOverlap,
		},
		filter:          NewHallucinationFilter(cfg.Filter),
		sampleRate:      sampleRate,
		silenceFrames:   cfg.SilenceFrames,
		minSpeechFrames: cfg.MinSpeechFrames,
		maxSamples:      cfg.MaxDurationMS * sampleRate / 1000,
		minTail:         int(float64(cfg.ChunkSamples) * cfg.MinFinalTailFactor),
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) CycleID() string {
	return m.cycleID
}

// Transcript is the text accepted so far in the current cycle, for
// incremental display.
func (m *Machine) Transcript() string {
	return m.transcript.Text()
}

// Buffered returns the number of samples waiting in the window.
func (m *Machine) Buffered() int {
	return m.window.Len()
}

// Trigger starts a cycle. It is ignored while already listening.
func (m *Machine) Trigger() []Action {
	if m.state == StateListening {
		return nil
	}
	m.reset()
	m.state = StateListening
	m.cycleID = m.newID()
	m.startedAt = m.now()
	return []Action{{Kind: ActionTriggered, CycleID: m.cycleID}}
}

// Listen appends one classified frame to the cycle.
func (m *Machine) Listen(frame []int16, class vad.Class) []Action {
	if m.state != StateListening {
		return nil
	}
	m.window.Append(frame)
	m.totalSamples += len(frame)

	var actions []Action
	switch class {
	case vad.Silence:
		m.silenceRun++
		m.speechRun = 0
	case vad.Speech:
		m.speechRun++
		m.silenceRun = 0
	}
	// A sustained speech run or a full buffer both ask for extraction; a chunk
	// is still only cut once chunk-size samples are buffered.
	speaking := class == vad.Speech && m.speechRun > m.minSpeechFrames
	if speaking || m.window.Ready() {
		actions = m.extract(actions)
	}

	switch {
	case m.silenceRun >= m.silenceFrames:
		actions = append(actions, Action{Kind: ActionFinalize, CycleID: m.cycleID, Reason: ReasonSilence})
	case m.maxSamples > 0 && (m.totalSamples > m.maxSamples || m.window.Len() >= m.maxSamples):
		actions = append(actions, Action{Kind: ActionFinalize, CycleID: m.cycleID, Reason: ReasonMaxDuration})
	}
	return actions
}

// extract cuts every ready chunk, deciding its overlap before recognition.
func (m *Machine) extract(actions []Action) []Action {
	for m.window.Ready() {
		chunk := m.window.Peek()
		res := m.gate.Evaluate(chunk)
		if !res.Accepted {
			m.window.Advance(m.overlap.For(m.chunkIndex, true))
			m.skipped++
			actions = append(actions, Action{Kind: ActionSkipped, CycleID: m.cycleID, ChunkIndex: m.chunkIndex, Gate: res})
			continue
		}
		m.window.Advance(m.overlap.For(m.chunkIndex, false))
		actions = append(actions, Action{Kind: ActionRecognize, CycleID: m.cycleID, ChunkIndex: m.chunkIndex, Chunk: chunk, Gate: res})
		m.chunkIndex++
	}
	return actions
}

// Accept filters recognized segments and appends the survivors to the
// transcript. Blank segments yield no verdict.
func (m *Machine) Accept(segments []string) []Verdict {
	if m.state != StateListening {
		return nil
	}
	var verdicts []Verdict
	for _, seg := range segments {
		v := m.filter.Check(seg)
		if v.Text == "" {
			continue
		}
		if v.Accepted {
			m.transcript.Add(v.Text)
			m.started = true
		} else {
			m.filtered++
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

// Tail hands out the remaining buffer for a final recognition pass. It only
// does so once speech was accepted and at least the minimum tail is buffered;
// otherwise the tail is left to be discarded.
func (m *Machine) Tail() ([]int16, bool) {
	if m.state != StateListening || !m.started || m.window.Len() == 0 || m.window.Len() < m.minTail {
		return nil, false
	}
	return m.window.Drain(), true
}

// Finalize closes the cycle and returns to Idle.
func (m *Machine) Finalize(reason string) Summary {
	if m.state != StateListening {
		return Summary{Reason: reason}
	}
	s := m.summary(reason)
	m.reset()
	m.state = StateIdle
	return s
}

// Abort closes the cycle without a final pass. Text accepted so far is kept
// in the summary.
func (m *Machine) Abort(reason string) Summary {
	s := m.Finalize(reason)
	s.Aborted = true
	return s
}

func (m *Machine) summary(reason string) Summary {
	s := Summary{
		CycleID:   m.cycleID,
		StartedAt: m.startedAt,
		Samples:   m.totalSamples,
		Chunks:    m.chunkIndex,
		Skipped:   m.skipped,
		Filtered:  m.filtered,
		Reason:    reason,
	}
	s.Duration = audio.Duration(m.totalSamples, m.sampleRate)
	if m.started {
		s.Transcript, s.Words = m.transcript.Finalize()
	}
	return s
}

func (m *Machine) reset() {
	m.window.Reset()
	m.transcript.Reset()
	m.cycleID = ""
	m.startedAt = time.Time{}
	m.silenceRun = 0
	m.speechRun = 0
	m.chunkIndex = 0
	m.skipped = 0
	m.filtered = 0
	m.totalSamples = 0
	m.started = false
}
