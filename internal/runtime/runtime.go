// Package runtime assembles the listener: telemetry, bus, event store,
// recognition engine, capture and the session controller, plus the HTTP
// health and status endpoints.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/hotword"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/publish"
	"github.com/loqalabs/loqa-listen/internal/session"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"github.com/loqalabs/loqa-listen/internal/vad"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	console     io.Writer
	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	store      *eventstore.Store
	engine     stt.Engine
	source     audio.Source
	queue      *audio.FrameQueue
	controller *session.Controller
}

// New builds a runtime. console receives the transcript echo and, at debug
// level, exported spans.
func New(cfg config.Config, logger *slog.Logger, console io.Writer) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		console: console,
	}
}

// Start runs until ctx is cancelled or the audio source is exhausted.
// Startup failures are returned before any audio is read.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.console, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.close()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           r.routes(metricsHandler),
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("http server listening", slog.String("addr", addr))
	}

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.promServer = &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("prometheus listener failed", slog.String("error", err.Error()))
			}
		}()
		r.logger.Info("prometheus metrics listening", slog.String("addr", bind))
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("audio_source", r.cfg.Audio.Source),
		slog.String("engine", r.engine.Name()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if r.cfg.Audio.Source == "wav" && !r.cfg.Audio.Realtime {
			return audio.Replay(gctx, r.source, r.queue)
		}
		return audio.Capture(gctx, r.source, r.queue)
	})
	g.Go(func() error {
		return r.controller.Run(gctx, r.queue)
	})
	err = g.Wait()
	r.ready.Store(false)
	if err != nil {
		return fmt.Errorf("pipeline stopped: %w", err)
	}
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	var err error
	if r.cfg.Bus.Enabled {
		if r.nats, err = natsserver.Start(r.cfg.Bus, r.logger); err != nil {
			return err
		}
		busCfg := r.cfg.Bus
		if r.nats != nil {
			busCfg.Servers = []string{r.nats.ClientURL()}
		}
		if r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger); err != nil {
			return err
		}
		if r.cfg.Bus.Stream != "" {
			if err := r.bus.EnsureStream(r.cfg.Bus.Stream, []string{"stt.>"}); err != nil {
				r.logger.Warn("transcripts will not be retained by jetstream", slog.String("error", err.Error()))
			}
		}
	}

	if r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger); err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	if r.engine, err = stt.New(r.cfg.STT, r.logger); err != nil {
		return fmt.Errorf("start recognition engine: %w", err)
	}

	detector, err := hotword.New(r.cfg.Hotword)
	if err != nil {
		return fmt.Errorf("start hotword detector: %w", err)
	}
	label := hotword.Label(r.cfg.Hotword.Resource)

	if r.source, err = r.openSource(); err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}
	r.queue = audio.NewFrameQueue(r.cfg.Audio.QueueFrames)

	var sinks session.MultiSink
	var progress func(byte)
	if r.cfg.Console.Enabled {
		console := publish.NewConsoleSink(r.console, r.cfg.Console.Quiet)
		console.Banner(label, r.engine.Name())
		sinks = append(sinks, console)
		if !r.cfg.Console.Quiet {
			progress = console.Mark
		}
	}
	if r.bus != nil {
		sinks = append(sinks, publish.NewBusSink(r.bus, r.cfg.RuntimeName))
	}
	if r.store.Enabled() {
		sinks = append(sinks, publish.NewStoreSink(r.store, label))
	}

	r.controller, err = session.NewController(session.Options{
		Session:    r.cfg.Session,
		STT:        r.cfg.STT,
		SampleRate: r.cfg.Audio.SampleRate,
		Hotword:    label,
		Detector:   detector,
		Classifier: vad.NewRMSClassifier(r.cfg.VAD),
		Engine:     r.engine,
		Sink:       sinks,
		Logger:     r.logger,
		Progress:   progress,
		Dropped:    r.queue.Dropped,
	})
	return err
}

func (r *Runtime) openSource() (audio.Source, error) {
	if r.cfg.Audio.Source == "bus" {
		if r.bus == nil {
			return nil, errors.New("audio source bus requires a bus connection")
		}
		src, err := r.bus.SubscribeAudio(r.cfg.Audio.BusSubject, r.cfg.Audio.SampleRate, r.cfg.Audio.QueueFrames)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return audio.Open(r.cfg.Audio, r.logger)
}

// close releases everything in reverse start order.
func (r *Runtime) close() {
	r.logger.Info("runtime stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.promServer != nil {
		if err := r.promServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("prometheus shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.logger.Warn("audio source close error", slog.String("error", err.Error()))
		}
	}
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.logger.Warn("recognition engine close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/cycles", r.handleCycles)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type statusResponse struct {
	session.Status
	Engine        string `json:"engine"`
	FramesPushed  uint64 `json:"frames_pushed"`
	FramesDropped uint64 `json:"frames_dropped"`
	Bus           string `json:"bus"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if r.controller == nil {
		http.Error(w, "not started", http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{
		Status:        r.controller.Status(),
		Engine:        r.engine.Name(),
		FramesPushed:  r.queue.Pushed(),
		FramesDropped: r.queue.Dropped(),
		Bus:           "disabled",
	}
	if r.bus != nil {
		resp.Bus = "disconnected"
		if r.bus.Healthy() {
			resp.Bus = "connected"
		}
	}
	writeJSON(w, resp)
}

func (r *Runtime) handleCycles(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	cycles, err := r.store.RecentCycles(req.Context(), limit)
	if err != nil {
		r.logger.Warn("list cycles failed", slog.String("error", err.Error()))
		http.Error(w, "event store unavailable", http.StatusInternalServerError)
		return
	}
	type cycleJSON struct {
		ID         string    `json:"cycle_id"`
		Hotword    string    `json:"hotword"`
		StartedAt  time.Time `json:"started_at"`
		EndedAt    time.Time `json:"ended_at"`
		Transcript string    `json:"transcript"`
		Words      int       `json:"words"`
		DurationMS int64     `json:"duration_ms"`
		Reason     string    `json:"reason"`
		Aborted    bool      `json:"aborted"`
	}
	out := make([]cycleJSON, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, cycleJSON{
			ID:         c.ID,
			Hotword:    c.Hotword,
			StartedAt:  c.StartedAt,
			EndedAt:    c.EndedAt,
			Transcript: c.Transcript,
			Words:      c.Words,
			DurationMS: c.Duration.Milliseconds(),
			Reason:     c.Reason,
			Aborted:    c.Aborted,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
