package stt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-listen/internal/audio"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecEngine runs a whisper.cpp style command line tool once per request. The
// audio is handed over as a temporary WAV file and the text is recovered from
// the tool's console output.
type ExecEngine struct {
	cmd   []string
	model string
	debug bool
	log   *slog.Logger
	mu    sync.Mutex
}

func NewExecEngine(cfg config.STTConfig, log *slog.Logger) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty: %w", ErrEngineUnavailable)
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, args[0], err)
	}
	args[0] = path
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelMissing, cfg.ModelPath)
	}
	log = log.With(slog.String("component", "stt-exec"))
	log.Info("recognition engine ready",
		slog.String("executable", path),
		slog.String("model", cfg.ModelPath),
		slog.Bool("gpu", cfg.GPULayers > 0))
	return &ExecEngine{cmd: args, model: cfg.ModelPath, debug: cfg.Debug, log: log}, nil
}

func (e *ExecEngine) Name() string { return "exec" }

func (e *ExecEngine) Close() error { return nil }

func (e *ExecEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "loqa_listen_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, req.Samples, req.SampleRate); err != nil {
		return Result{}, err
	}

	args := append(append([]string{}, e.cmd[1:]...), e.arguments(req, file.Name())...)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	if e.debug {
		e.log.Debug("running recognition command", slog.String("command", e.cmd[0]+" "+strings.Join(args, " ")))
	}

	stdout, err := command.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stt stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: start: %v", ErrEngineUnavailable, err)
	}

	segments, scanErr := parseOutput(stdout, e.traceLine)
	if scanErr != nil {
		// Wait must not run while the child can still block on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	if err := command.Wait(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, tail(stderr.String(), 512))
	}
	if scanErr != nil {
		return Result{}, fmt.Errorf("read stt output: %w", scanErr)
	}
	return Result{Segments: segments}, nil
}

func (e *ExecEngine) arguments(req Request, path string) []string {
	lang := req.Language
	if lang == "" {
		lang = "auto"
	}
	q := req.Quality
	args := []string{"-l", lang, "-m", e.model}
	if q.GPULayers == 0 {
		args = append(args, "--no-gpu")
	}
	if q.BestOf > 0 {
		args = append(args, "--best-of", strconv.Itoa(q.BestOf))
	}
	if q.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(q.BeamSize))
	}
	if q.NoSpeechThreshold > 0 {
		args = append(args, "--no-speech-thold", strconv.FormatFloat(q.NoSpeechThreshold, 'f', -1, 64))
	}
	if q.WordThreshold > 0 {
		args = append(args, "--word-thold", strconv.FormatFloat(q.WordThreshold, 'f', -1, 64))
	}
	if q.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(q.Threads))
	}
	return append(args, "-f", path)
}

func (e *ExecEngine) traceLine(line string) {
	if e.debug {
		e.log.Debug("stt output", slog.String("line", line))
	}
}

// noisePrefixes are diagnostic lines whisper.cpp tools print around the
// actual transcript.
var noisePrefixes = []string{
	"system_info:", "whisper_print_timings:", "main:", "ggml:", "whisper:", "memcpy(",
	"whisper_init_", "whisper_model_", "whisper_backend_", "whisper_full_",
	"load time", "fallbacks", "mel time", "sample time", "encode time", "decode time",
	"batchd time", "prompt time", "total time", "auto-detected language:",
	"processing '", "threads", "processors", "beams", "lang =", "task =", "timestamps =",
	"ggml_cuda_init:", "Device 0:", "compute capability", "VMM:", "GGML_CUDA_FORCE",
	"use gpu", "flash attn", "gpu_device", "dtw", "devices", "backends",
	"n_vocab", "n_audio", "n_text", "n_mels", "ftype", "qntvr", "type", "adding",
	"extra tokens", "n_langs", "CUDA0 total size", "model size", "using CUDA",
	"kv self size", "kv cross size", "kv pad size", "compute buffer", "WHISPER :",
	"CPU :", "SSE3", "SSSE3", "AVX", "FMA", "AVX512", "OPENMP", "REPACK",
}

// parseOutput collects transcript segments from console output. Lines of the
// form "[00:00:00.000 --> 00:00:02.500]  text" yield their text; known
// diagnostic lines are dropped; any other non-empty line is kept verbatim.
func parseOutput(r io.Reader, trace func(string)) ([]string, error) {
	var segments []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if trace != nil {
			trace(line)
		}
		if text, ok := segmentFromLine(line); ok {
			segments = append(segments, text)
		}
	}
	return segments, scanner.Err()
}

func segmentFromLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if strings.HasPrefix(line, "[") {
		if rb := strings.IndexByte(line, ']'); rb >= 0 {
			text := strings.TrimSpace(line[rb+1:])
			return text, text != ""
		}
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(line, p) {
			return "", false
		}
	}
	return line, true
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ Engine = (*ExecEngine)(nil)
