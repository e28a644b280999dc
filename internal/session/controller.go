package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/hotword"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"github.com/loqalabs/loqa-listen/internal/vad"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-listen/session"

// Progress markers written while running with console output.
const (
	MarkIdle   = '.'
	MarkSpeech = '*'

	idleMarkEvery   = 100
	speechMarkEvery = 10
)

// Options wires a Controller to its collaborators.
type Options struct {
	Session    config.SessionConfig
	STT        config.STTConfig
	SampleRate int
	// Hotword is the spoken label reported with each cycle.
	Hotword    string
	Detector   hotword.Detector
	Classifier vad.Classifier
	Engine     stt.Engine
	Sink       Sink
	Logger     *slog.Logger
	// Progress receives idle and speech markers; nil disables them.
	Progress func(marker byte)
	// Dropped reports frames lost by the capture queue.
	Dropped func() uint64
	Meter   metric.Meter
	Tracer  trace.Tracer
}

// Status is a snapshot for the HTTP status endpoint.
type Status struct {
	State          string    `json:"state"`
	CycleID        string    `json:"cycle_id,omitempty"`
	Cycles         int64     `json:"cycles"`
	Recognized     int64     `json:"chunks_recognized"`
	Skipped        int64     `json:"chunks_skipped"`
	Filtered       int64     `json:"segments_filtered"`
	Failures       int64     `json:"recognition_failures"`
	Transcript     string    `json:"transcript,omitempty"`
	LastTranscript string    `json:"last_transcript,omitempty"`
	LastReason     string    `json:"last_reason,omitempty"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
}

// Controller owns the processing path: it pulls frames, drives the Machine
// and performs the actions it returns. Recognition runs synchronously, so at
// most one engine call is in flight and frames queue up meanwhile.
type Controller struct {
	opts       Options
	machine    *Machine
	detector   hotword.Detector
	classifier vad.Classifier
	engine     stt.Engine
	sink       Sink
	log        *slog.Logger
	quality    stt.Quality
	timeout    time.Duration
	tracer     trace.Tracer

	cycles     metric.Int64Counter
	recognized metric.Int64Counter
	skipped    metric.Int64Counter
	filtered   metric.Int64Counter
	failures   metric.Int64Counter
	duration   metric.Float64Histogram

	idleFrames   int
	speechFrames int

	mu     sync.Mutex
	status Status
}

func NewController(opts Options) (*Controller, error) {
	if opts.Detector == nil || opts.Classifier == nil || opts.Engine == nil {
		return nil, errors.New("session: detector, classifier and engine are required")
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	c := &Controller{
		opts:       opts,
		machine:    NewMachine(opts.Session, opts.SampleRate),
		detector:   opts.Detector,
		classifier: opts.Classifier,
		engine:     opts.Engine,
		sink:       opts.Sink,
		log:        opts.Logger.With(slog.String("component", "session")),
		quality:    stt.QualityFromConfig(opts.STT),
		timeout:    time.Duration(opts.STT.TimeoutMS) * time.Millisecond,
		tracer:     opts.Tracer,
		status:     Status{State: StateIdle.String()},
	}
	if err := c.registerInstruments(opts.Meter); err != nil {
		return nil, fmt.Errorf("register session instruments: %w", err)
	}
	return c, nil
}

func (c *Controller) registerInstruments(meter metric.Meter) error {
	var err error
	if c.cycles, err = meter.Int64Counter("loqa.listen.cycles", metric.WithDescription("Listening cycles started")); err != nil {
		return err
	}
	if c.recognized, err = meter.Int64Counter("loqa.listen.chunks.recognized", metric.WithDescription("Chunks sent to the recognition engine")); err != nil {
		return err
	}
	if c.skipped, err = meter.Int64Counter("loqa.listen.chunks.skipped", metric.WithDescription("Chunks rejected by the speech gate")); err != nil {
		return err
	}
	if c.filtered, err = meter.Int64Counter("loqa.listen.segments.filtered", metric.WithDescription("Segments rejected as recognition artifacts")); err != nil {
		return err
	}
	if c.failures, err = meter.Int64Counter("loqa.listen.recognition.failures", metric.WithDescription("Failed recognition calls")); err != nil {
		return err
	}
	if c.duration, err = meter.Float64Histogram("loqa.listen.recognition.duration", metric.WithDescription("Recognition call latency"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if c.opts.Dropped != nil {
		dropped := c.opts.Dropped
		_, err = meter.Int64ObservableCounter("loqa.listen.frames.dropped",
			metric.WithDescription("Frames dropped by the capture queue"),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(dropped()))
				return nil
			}))
	}
	return err
}

// Run consumes frames until the queue closes or ctx is cancelled. End of
// input closes an open cycle normally; cancellation aborts it without a
// further engine call.
func (c *Controller) Run(ctx context.Context, q *audio.FrameQueue) error {
	c.log.Info("session controller started",
		slog.String("engine", c.engine.Name()),
		slog.String("hotword", c.opts.Hotword))
	for {
		if ctx.Err() != nil {
			c.Abort(context.WithoutCancel(ctx), ReasonShutdown)
			return nil
		}
		frame, err := q.Pop(ctx)
		switch {
		case err == nil:
			c.Process(ctx, frame)
		case errors.Is(err, audio.ErrQueueClosed):
			c.Close(ctx, ReasonEndOfInput)
			return nil
		case ctx.Err() == nil:
			return fmt.Errorf("pop frame: %w", err)
		}
	}
}

// Process handles a single frame.
func (c *Controller) Process(ctx context.Context, frame audio.Frame) {
	if c.machine.State() == StateIdle {
		c.idleFrames++
		if c.idleFrames%idleMarkEvery == 0 {
			c.mark(MarkIdle)
		}
		fired, err := c.detector.Detect(frame.Samples)
		if err != nil {
			c.log.Warn("hotword detection failed", slogError(err))
			return
		}
		if !fired {
			return
		}
		c.classifier.Reset()
		c.perform(ctx, c.machine.Trigger())
		return
	}

	class := c.classifier.Classify(frame.Samples)
	if class == vad.Speech {
		c.speechFrames++
		if c.speechFrames%speechMarkEvery == 0 {
			c.mark(MarkSpeech)
		}
	}
	c.perform(ctx, c.machine.Listen(frame.Samples, class))
}

func (c *Controller) perform(ctx context.Context, actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionTriggered:
			c.onTriggered(ctx, a)
		case ActionSkipped:
			c.skipped.Add(ctx, 1)
			c.bump(func(s *Status) { s.Skipped++ })
			c.log.Debug("chunk skipped",
				slog.String("cycle_id", a.CycleID),
				slog.Int("chunk", a.ChunkIndex),
				slog.String("reason", a.Gate.Reason),
				slog.Float64("rms", a.Gate.RMS),
				slog.Float64("activity_ratio", a.Gate.ActivityRatio))
		case ActionRecognize:
			res, ok := c.recognize(ctx, a.Chunk, false, a.ChunkIndex)
			if !ok {
				continue
			}
			c.publish(ctx, a.CycleID, a.ChunkIndex, false, c.machine.Accept(res.Segments))
			running := c.machine.Transcript()
			c.bump(func(s *Status) { s.Transcript = running })
		case ActionFinalize:
			c.Close(ctx, a.Reason)
			return
		}
	}
}

func (c *Controller) onTriggered(ctx context.Context, a Action) {
	c.speechFrames = 0
	c.detector.Reset()
	c.cycles.Add(ctx, 1)
	c.bump(func(s *Status) {
		s.Cycles++
		s.State = StateListening.String()
		s.CycleID = a.CycleID
	})
	c.log.Info("hotword detected, listening",
		slog.String("cycle_id", a.CycleID),
		slog.String("hotword", c.opts.Hotword))
	if err := c.sink.Started(ctx, Cycle{ID: a.CycleID, Hotword: c.opts.Hotword, StartedAt: time.Now().UTC()}); err != nil {
		c.log.Warn("sink rejected cycle start", slogError(err))
	}
}

// recognize runs one engine call. ok is false when the result must be
// discarded, either because the call failed or because ctx was cancelled
// while it ran.
func (c *Controller) recognize(ctx context.Context, samples []int16, final bool, chunk int) (stt.Result, bool) {
	if ctx.Err() != nil {
		return stt.Result{}, false
	}
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	callCtx, span := c.tracer.Start(callCtx, "stt.transcribe", trace.WithAttributes(
		attribute.String("stt.engine", c.engine.Name()),
		attribute.Int("stt.samples", len(samples)),
		attribute.Int("session.chunk", chunk),
		attribute.Bool("stt.final", final),
	))
	defer span.End()

	attrs := metric.WithAttributes(attribute.Bool("final", final))
	c.recognized.Add(ctx, 1, attrs)
	c.bump(func(s *Status) { s.Recognized++ })

	start := time.Now()
	res, err := c.engine.Transcribe(callCtx, stt.Request{
		Samples:    samples,
		SampleRate: c.opts.SampleRate,
		Language:   c.opts.STT.Language,
		Quality:    c.quality,
		Final:      final,
	})
	elapsed := time.Since(start)
	c.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		c.log.Info("discarding recognition result after cancellation", slog.Int("chunk", chunk))
		return stt.Result{}, false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failures.Add(ctx, 1, attrs)
		c.bump(func(s *Status) { s.Failures++ })
		c.log.Warn("recognition failed, treating as no speech",
			slog.Int("chunk", chunk),
			slog.Bool("final", final),
			slogError(err))
		return stt.Result{}, false
	}
	span.SetAttributes(attribute.Int("stt.segments", len(res.Segments)))
	if res.Empty() {
		c.log.Debug("no speech recognized", slog.Int("chunk", chunk), slog.Bool("final", final))
		return res, true
	}
	c.log.Debug("chunk recognized",
		slog.Int("chunk", chunk),
		slog.Bool("final", final),
		slog.Duration("elapsed", elapsed),
		slog.String("text", res.Text()))
	return res, true
}

func (c *Controller) publish(ctx context.Context, cycleID string, chunk int, final bool, verdicts []Verdict) {
	for _, v := range verdicts {
		u := Update{CycleID: cycleID, ChunkIndex: chunk, Text: v.Text, Final: final, At: time.Now().UTC()}
		if v.Accepted {
			if err := c.sink.Partial(ctx, u); err != nil {
				c.log.Warn("sink rejected partial transcript", slogError(err))
			}
			continue
		}
		u.Rule = v.Rule
		c.filtered.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", v.Rule)))
		c.bump(func(s *Status) { s.Filtered++ })
		c.log.Debug("segment filtered",
			slog.String("cycle_id", cycleID),
			slog.String("text", v.Text),
			slog.String("rule", v.Rule),
			slog.String("match", v.Match))
		if err := c.sink.Filtered(ctx, u); err != nil {
			c.log.Warn("sink rejected filtered segment", slogError(err))
		}
	}
}

// Close finalizes an open cycle, running the final pass over the remaining
// buffer when there is one worth recognizing.
func (c *Controller) Close(ctx context.Context, reason string) {
	if c.machine.State() != StateListening {
		return
	}
	cycleID := c.machine.CycleID()
	if tail, ok := c.machine.Tail(); ok {
		if res, ok := c.recognize(ctx, tail, true, -1); ok {
			c.publish(ctx, cycleID, -1, true, c.machine.Accept(res.Segments))
		}
	}
	if ctx.Err() != nil {
		c.finish(context.WithoutCancel(ctx), c.machine.Abort(ReasonShutdown))
		return
	}
	c.finish(ctx, c.machine.Finalize(reason))
}

// Abort closes an open cycle without calling the engine again.
func (c *Controller) Abort(ctx context.Context, reason string) {
	if c.machine.State() != StateListening {
		return
	}
	c.finish(ctx, c.machine.Abort(reason))
}

func (c *Controller) finish(ctx context.Context, summary Summary) {
	c.detector.Reset()
	c.classifier.Reset()
	c.idleFrames = 0
	c.bump(func(s *Status) {
		s.State = StateIdle.String()
		s.CycleID = ""
		s.Transcript = ""
		s.LastReason = summary.Reason
		s.LastCycleAt = time.Now().UTC()
		if !summary.Empty() {
			s.LastTranscript = summary.Transcript
		}
	})
	c.log.Info("cycle finalized",
		slog.String("cycle_id", summary.CycleID),
		slog.String("reason", summary.Reason),
		slog.Bool("aborted", summary.Aborted),
		slog.Int("words", summary.Words),
		slog.Duration("duration", summary.Duration),
		slog.Int("chunks", summary.Chunks),
		slog.Int("skipped", summary.Skipped),
		slog.Int("filtered", summary.Filtered))
	if !summary.Empty() {
		if err := c.sink.Final(ctx, summary); err != nil {
			c.log.Warn("sink rejected final transcript", slogError(err))
		}
	}
	if err := c.sink.Closed(ctx, summary); err != nil {
		c.log.Warn("sink rejected cycle close", slogError(err))
	}
}

func (c *Controller) mark(marker byte) {
	if c.opts.Progress != nil {
		c.opts.Progress(marker)
	}
}

func (c *Controller) bump(update func(*Status)) {
	c.mu.Lock()
	update(&c.status)
	c.mu.Unlock()
}

// Status is safe to call from any goroutine.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
