package session

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/vad"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(testSessionConfig(), testRate)
	m.newID = func() string { return "cycle-1" }
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind)
	}
	return out
}

func TestListenIgnoredWhileIdle(t *testing.T) {
	m := newTestMachine(t)
	if actions := m.Listen(loud(1024), vad.Speech); actions != nil {
		t.Fatalf("expected no actions while idle, got %v", kinds(actions))
	}
	if m.Accept([]string{"hello"}) != nil {
		t.Fatal("expected no verdicts while idle")
	}
	if m.Buffered() != 0 {
		t.Fatal("idle frames must not be buffered")
	}
}

func TestTriggerStartsCycle(t *testing.T) {
	m := newTestMachine(t)
	actions := m.Trigger()
	if len(actions) != 1 || actions[0].Kind != ActionTriggered || actions[0].CycleID != "cycle-1" {
		t.Fatalf("unexpected trigger actions %+v", actions)
	}
	if m.State() != StateListening {
		t.Fatal("expected listening state")
	}
	if m.Trigger() != nil {
		t.Fatal("trigger while listening must be ignored")
	}
}

func TestTriggerResetsPreviousCycle(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	m.Listen(loud(30000), vad.Speech)
	m.Accept([]string{"hello"})
	m.Finalize(ReasonSilence)

	m.Trigger()
	if m.Buffered() != 0 {
		t.Fatalf("expected empty buffer after trigger, got %d", m.Buffered())
	}
	summary := m.Finalize(ReasonSilence)
	if !summary.Empty() || summary.Samples != 0 || summary.Chunks != 0 {
		t.Fatalf("expected fresh cycle, got %+v", summary)
	}
}

func TestSilentCycleNeverRecognizes(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	var all []Action
	for i := 0; i < 100; i++ {
		class := vad.Indeterminate
		if i >= 70 {
			class = vad.Silence
		}
		all = append(all, m.Listen(quiet(1024), class)...)
	}
	got := kinds(all)
	if slices.Contains(got, ActionRecognize) {
		t.Fatalf("silent audio must never reach the engine: %v", got)
	}
	if !slices.Contains(got, ActionSkipped) {
		t.Fatalf("expected the full silent chunk to be skipped: %v", got)
	}
	if got[len(got)-1] != ActionFinalize || all[len(all)-1].Reason != ReasonSilence {
		t.Fatalf("expected finalize on silence run, got %v", got)
	}
	if _, ok := m.Tail(); ok {
		t.Fatal("no final pass without accepted speech")
	}
	summary := m.Finalize(ReasonSilence)
	if !summary.Empty() {
		t.Fatalf("expected no transcript, got %q", summary.Transcript)
	}
	if m.State() != StateIdle {
		t.Fatal("expected idle after finalize")
	}
}

func TestSilenceRunFinalizesAtThreshold(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	for i := 1; i <= 29; i++ {
		if actions := m.Listen(quiet(1024), vad.Silence); len(actions) != 0 {
			t.Fatalf("frame %d: unexpected actions %v", i, kinds(actions))
		}
	}
	actions := m.Listen(quiet(1024), vad.Silence)
	if len(actions) != 1 || actions[0].Kind != ActionFinalize {
		t.Fatalf("expected finalize on 30th silent frame, got %v", kinds(actions))
	}
}

func TestSpeechResetsSilenceRun(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	for i := 0; i < 29; i++ {
		m.Listen(quiet(100), vad.Silence)
	}
	m.Listen(loud(100), vad.Speech)
	for i := 0; i < 29; i++ {
		if actions := m.Listen(quiet(100), vad.Silence); len(actions) != 0 {
			t.Fatalf("silence run was not reset by speech: %v", kinds(actions))
		}
	}
	// Indeterminate frames leave the run untouched.
	m.Listen(quiet(100), vad.Indeterminate)
	if actions := m.Listen(quiet(100), vad.Silence); len(actions) != 1 || actions[0].Kind != ActionFinalize {
		t.Fatalf("expected finalize, got %v", kinds(actions))
	}
}

func TestSafetyCutoff(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	for frame := 1; frame <= 2000; frame++ {
		actions := m.Listen(loud(1024), vad.Speech)
		if m.Buffered() >= 60*testRate {
			t.Fatalf("buffer reached the cutoff: %d", m.Buffered())
		}
		for _, a := range actions {
			if a.Kind != ActionFinalize {
				continue
			}
			if a.Reason != ReasonMaxDuration {
				t.Fatalf("unexpected finalize reason %q", a.Reason)
			}
			// 938 * 1024 is the first frame count above 60 s at 16 kHz.
			if frame != 938 {
				t.Fatalf("cutoff fired at frame %d", frame)
			}
			summary := m.Finalize(a.Reason)
			if summary.Duration <= time.Minute || summary.Duration > time.Minute+time.Second {
				t.Fatalf("unexpected cycle duration %v", summary.Duration)
			}
			return
		}
	}
	t.Fatal("cutoff never fired")
}

func TestAcceptedChunksShareOverlap(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	var chunks []Action
	for pos := 0; pos < 150000; pos += 1024 {
		for _, a := range m.Listen(ramp(pos, 1024), vad.Speech) {
			if a.Kind == ActionRecognize {
				chunks = append(chunks, a)
			}
		}
	}
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, a := range chunks {
		if a.ChunkIndex != i {
			t.Fatalf("chunk %d carries index %d", i, a.ChunkIndex)
		}
	}
	first, second, third := chunks[0].Chunk, chunks[1].Chunk, chunks[2].Chunk
	if !slices.Equal(second[:3000], first[45000:]) {
		t.Fatal("second chunk must begin with the first overlap (1/16)")
	}
	if !slices.Equal(third[:1500], second[46500:]) {
		t.Fatal("third chunk must begin with the subsequent overlap (1/32)")
	}
	if slices.Equal(third[:3000], second[45000:]) {
		t.Fatal("overlap must not grow after the first chunk")
	}
}

func TestSkippedChunkKeepsLargerOverlap(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	var actions []Action
	for i := 0; i < 47; i++ {
		actions = append(actions, m.Listen(quiet(1024), vad.Indeterminate)...)
	}
	actions = append(actions, m.Listen(quiet(1024), vad.Indeterminate)...)
	if !slices.Contains(kinds(actions), ActionSkipped) {
		t.Fatalf("expected skipped chunk, got %v", kinds(actions))
	}
	// 48 * 1024 buffered, 36000 removed.
	if m.Buffered() != 48*1024-36000 {
		t.Fatalf("unexpected buffered samples %d", m.Buffered())
	}
}

func TestFilteredSegmentsDoNotStartTranscript(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	m.Listen(loud(30000), vad.Speech)
	verdicts := m.Accept([]string{"Thanks for watching!", "", "   "})
	if len(verdicts) != 1 || verdicts[0].Accepted {
		t.Fatalf("unexpected verdicts %+v", verdicts)
	}
	if _, ok := m.Tail(); ok {
		t.Fatal("filtered text must not enable the final pass")
	}
	summary := m.Finalize(ReasonSilence)
	if !summary.Empty() || summary.Filtered != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTailNeedsHalfChunk(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	m.Listen(loud(20000), vad.Speech)
	m.Accept([]string{"hello"})
	if _, ok := m.Tail(); ok {
		t.Fatal("tail below half a chunk must be discarded")
	}
	m.Listen(loud(4000), vad.Speech)
	tail, ok := m.Tail()
	if !ok || len(tail) != 24000 {
		t.Fatalf("expected 24000 sample tail, got %d %v", len(tail), ok)
	}
	if m.Buffered() != 0 {
		t.Fatal("tail must drain the window")
	}
}

func TestRunningTranscript(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	m.Listen(loud(1024), vad.Speech)
	m.Accept([]string{"turn on", "Thanks for watching!"})
	m.Accept([]string{" the lights "})
	if got := m.Transcript(); got != "turn on the lights" {
		t.Fatalf("unexpected running transcript %q", got)
	}
	m.Finalize(ReasonSilence)
	if m.Transcript() != "" {
		t.Fatal("running transcript must be cleared with the cycle")
	}
}

func TestAbortKeepsAcceptedText(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()
	m.Listen(loud(1024), vad.Speech)
	m.Accept([]string{"turn on"})
	summary := m.Abort(ReasonShutdown)
	if !summary.Aborted || summary.Transcript != "turn on" || summary.Reason != ReasonShutdown {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if m.State() != StateIdle {
		t.Fatal("expected idle after abort")
	}
}

// Five seconds of speech followed by silence, with a scripted engine.
func TestFiveSecondUtterance(t *testing.T) {
	m := newTestMachine(t)
	m.Trigger()

	var summary Summary
	recognized := 0
	handle := func(actions []Action) bool {
		for _, a := range actions {
			switch a.Kind {
			case ActionRecognize:
				m.Accept([]string{fmt.Sprintf(" part%d ", a.ChunkIndex)})
				recognized++
			case ActionFinalize:
				if tail, ok := m.Tail(); ok {
					t.Fatalf("unexpected final pass over %d samples", len(tail))
				}
				summary = m.Finalize(a.Reason)
				return true
			}
		}
		return false
	}

	frames := 0
	for i := 0; i < 5*testRate/1024; i++ {
		frames++
		if handle(m.Listen(loud(1024), vad.Speech)) {
			t.Fatal("finalized during speech")
		}
	}
	done := false
	for !done {
		frames++
		done = handle(m.Listen(quiet(1024), vad.Silence))
	}

	if recognized != 2 {
		t.Fatalf("expected 2 recognized chunks, got %d", recognized)
	}
	if summary.Transcript != "part0 part1" || summary.Words != 2 {
		t.Fatalf("unexpected transcript %q (%d words)", summary.Transcript, summary.Words)
	}
	if summary.Samples != frames*1024 {
		t.Fatalf("expected %d samples, got %d", frames*1024, summary.Samples)
	}
	want := time.Duration(summary.Samples) * time.Second / testRate
	if summary.Duration != want {
		t.Fatalf("expected duration %v, got %v", want, summary.Duration)
	}
	if summary.CycleID != "cycle-1" || summary.Reason != ReasonSilence {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
