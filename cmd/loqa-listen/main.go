package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/runtime"
)

var version = "0.1.0-dev"

// gpuLayers is what -gpu offloads; enough for every whisper model size.
const gpuLayers = 35

func main() {
	var (
		configPath  string
		modelPath   string
		language    string
		layers      int
		useGPU      bool
		quiet       bool
		inputPath   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults are used when empty)")
	flag.StringVar(&modelPath, "model", "", "Path to the recognition model")
	flag.StringVar(&language, "lang", "", "Recognition language code, or auto")
	flag.IntVar(&layers, "ngl", 0, "Number of model layers to offload to the GPU")
	flag.BoolVar(&useGPU, "gpu", false, fmt.Sprintf("Offload %d layers to the GPU", gpuLayers))
	flag.BoolVar(&quiet, "quiet", false, "Only print final transcripts and warnings")
	flag.StringVar(&inputPath, "input", "", "Replay a 16 kHz WAV file instead of the microphone")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// Logs go to stderr; stdout carries the transcript echo.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.STT.ModelPath = modelPath
		case "lang":
			cfg.STT.Language = language
		case "ngl":
			cfg.STT.GPULayers = layers
		case "gpu":
			if useGPU && cfg.STT.GPULayers == 0 {
				cfg.STT.GPULayers = gpuLayers
			}
		case "quiet":
			cfg.Console.Quiet = quiet
		case "input":
			cfg.Audio.Source = "wav"
			cfg.Audio.InputPath = inputPath
		}
	})
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level.Set(parseLevel(cfg.Telemetry.LogLevel))
	if cfg.Console.Quiet && level.Level() < slog.LevelWarn {
		level.Set(slog.LevelWarn)
	}

	rt := runtime.New(cfg, logger, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
