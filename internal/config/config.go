package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Hotword     HotwordConfig    `yaml:"hotword"`
	VAD         VADConfig        `yaml:"vad"`
	Session     SessionConfig    `yaml:"session"`
	STT         STTConfig        `yaml:"stt"`
	Console     ConsoleConfig    `yaml:"console"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Stream         string   `yaml:"stream"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig describes the capture path.
type AudioConfig struct {
	Source       string `yaml:"source"` // portaudio, wav, bus
	InputPath    string `yaml:"input_path"`
	Realtime     bool   `yaml:"realtime"`
	BusSubject   string `yaml:"bus_subject"`
	SampleRate   int    `yaml:"sample_rate"`
	FrameSamples int    `yaml:"frame_samples"`
	QueueFrames  int    `yaml:"queue_frames"`
}

type HotwordConfig struct {
	Mode string `yaml:"mode"` // energy, always
	// Resource names the hotword model; only its base name is used, as the
	// spoken label shown to the user.
	Resource      string  `yaml:"resource"`
	TriggerRMS    float64 `yaml:"trigger_rms"`
	TriggerFrames int     `yaml:"trigger_frames"`
}

type VADConfig struct {
	SpeechRMS  float64 `yaml:"speech_rms"`
	SilenceRMS float64 `yaml:"silence_rms"`
}

// SessionConfig carries the tuning values of the streaming session
// controller. Overlaps are fractions of ChunkSamples.
type SessionConfig struct {
	ChunkSamples       int          `yaml:"chunk_samples"`
	FirstOverlap       float64      `yaml:"first_overlap"`
	SubsequentOverlap  float64      `yaml:"subsequent_overlap"`
	SkippedOverlap     float64      `yaml:"skipped_overlap"`
	SilenceFrames      int          `yaml:"silence_frames"`
	MinSpeechFrames    int          `yaml:"min_speech_frames"`
	MinRMS             float64      `yaml:"min_rms"`
	ActivityAmplitude  int          `yaml:"activity_amplitude"`
	MinActivityRatio   float64      `yaml:"min_activity_ratio"`
	MaxDurationMS      int          `yaml:"max_duration_ms"`
	MinFinalTailFactor float64      `yaml:"min_final_tail_factor"`
	Filter             FilterConfig `yaml:"filter"`
}

type FilterConfig struct {
	ExtraPhrases    []string `yaml:"extra_phrases"`
	ExtraStandalone []string `yaml:"extra_standalone"`
}

type STTConfig struct {
	Mode              string  `yaml:"mode"` // exec, native, mock
	Command           string  `yaml:"command"`
	ModelPath         string  `yaml:"model_path"`
	Language          string  `yaml:"language"`
	GPULayers         int     `yaml:"gpu_layers"`
	Threads           int     `yaml:"threads"`
	BeamSize          int     `yaml:"beam_size"`
	BestOf            int     `yaml:"best_of"`
	NoSpeechThreshold float64 `yaml:"no_speech_threshold"`
	WordThreshold     float64 `yaml:"word_threshold"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	Debug             bool    `yaml:"debug"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	Quiet   bool `yaml:"quiet"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-listen",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "0.0.0.0",
			Port:    8081,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Stream:         "LOQA_LISTEN",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-listen.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			Source:       "portaudio",
			BusSubject:   "audio.frame.>",
			SampleRate:   16000,
			FrameSamples: 1024,
			QueueFrames:  256,
		},
		Hotword: HotwordConfig{
			Mode:          "energy",
			Resource:      "hey_loqa",
			TriggerRMS:    1500,
			TriggerFrames: 4,
		},
		VAD: VADConfig{
			SpeechRMS:  400,
			SilenceRMS: 150,
		},
		Session: SessionConfig{
			ChunkSamples:       48000,
			FirstOverlap:       1.0 / 16,
			SubsequentOverlap:  1.0 / 32,
			SkippedOverlap:     1.0 / 4,
			SilenceFrames:      30,
			MinSpeechFrames:    3,
			MinRMS:             50,
			ActivityAmplitude:  200,
			MinActivityRatio:   0.005,
			MaxDurationMS:      60000,
			MinFinalTailFactor: 0.5,
		},
		STT: STTConfig{
			Mode:              "exec",
			Command:           "whisper-cli",
			ModelPath:         "./models/ggml-large-v3.bin",
			Language:          "en",
			BeamSize:          5,
			BestOf:            5,
			NoSpeechThreshold: 0.3,
			WordThreshold:     0.005,
			TimeoutMS:         45000,
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.Stream, "LOQA_BUS_STREAM")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.Source, "LOQA_AUDIO_SOURCE")
	overrideString(&cfg.Audio.InputPath, "LOQA_AUDIO_INPUT_PATH")
	overrideBool(&cfg.Audio.Realtime, "LOQA_AUDIO_REALTIME")
	overrideString(&cfg.Audio.BusSubject, "LOQA_AUDIO_BUS_SUBJECT")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameSamples, "LOQA_AUDIO_FRAME_SAMPLES")
	overrideInt(&cfg.Audio.QueueFrames, "LOQA_AUDIO_QUEUE_FRAMES")
	overrideString(&cfg.Hotword.Mode, "LOQA_HOTWORD_MODE")
	overrideString(&cfg.Hotword.Resource, "LOQA_HOTWORD_RESOURCE")
	overrideFloat(&cfg.Hotword.TriggerRMS, "LOQA_HOTWORD_TRIGGER_RMS")
	overrideInt(&cfg.Hotword.TriggerFrames, "LOQA_HOTWORD_TRIGGER_FRAMES")
	overrideFloat(&cfg.VAD.SpeechRMS, "LOQA_VAD_SPEECH_RMS")
	overrideFloat(&cfg.VAD.SilenceRMS, "LOQA_VAD_SILENCE_RMS")
	overrideInt(&cfg.Session.ChunkSamples, "LOQA_SESSION_CHUNK_SAMPLES")
	overrideFloat(&cfg.Session.FirstOverlap, "LOQA_SESSION_FIRST_OVERLAP")
	overrideFloat(&cfg.Session.SubsequentOverlap, "LOQA_SESSION_SUBSEQUENT_OVERLAP")
	overrideFloat(&cfg.Session.SkippedOverlap, "LOQA_SESSION_SKIPPED_OVERLAP")
	overrideInt(&cfg.Session.SilenceFrames, "LOQA_SESSION_SILENCE_FRAMES")
	overrideInt(&cfg.Session.MinSpeechFrames, "LOQA_SESSION_MIN_SPEECH_FRAMES")
	overrideFloat(&cfg.Session.MinRMS, "LOQA_SESSION_MIN_RMS")
	overrideInt(&cfg.Session.ActivityAmplitude, "LOQA_SESSION_ACTIVITY_AMPLITUDE")
	overrideFloat(&cfg.Session.MinActivityRatio, "LOQA_SESSION_MIN_ACTIVITY_RATIO")
	overrideInt(&cfg.Session.MaxDurationMS, "LOQA_SESSION_MAX_DURATION_MS")
	overrideFloat(&cfg.Session.MinFinalTailFactor, "LOQA_SESSION_MIN_FINAL_TAIL_FACTOR")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideInt(&cfg.STT.GPULayers, "LOQA_STT_GPU_LAYERS")
	overrideInt(&cfg.STT.Threads, "LOQA_STT_THREADS")
	overrideInt(&cfg.STT.BeamSize, "LOQA_STT_BEAM_SIZE")
	overrideInt(&cfg.STT.BestOf, "LOQA_STT_BEST_OF")
	overrideFloat(&cfg.STT.NoSpeechThreshold, "LOQA_STT_NO_SPEECH_THRESHOLD")
	overrideFloat(&cfg.STT.WordThreshold, "LOQA_STT_WORD_THRESHOLD")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_STT_TIMEOUT_MS")
	overrideBool(&cfg.STT.Debug, "LOQA_STT_DEBUG")
	overrideBool(&cfg.Console.Enabled, "LOQA_CONSOLE_ENABLED")
	overrideBool(&cfg.Console.Quiet, "LOQA_CONSOLE_QUIET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first invalid setting in cfg. It is exported so that
// command-line overrides applied after Load can be checked again.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if err := validateAudio(cfg.Audio); err != nil {
		return err
	}
	if cfg.Audio.Source == "bus" && !cfg.Bus.Enabled {
		return errors.New("audio.source=bus requires bus.enabled")
	}
	switch cfg.Hotword.Mode {
	case "energy":
		if cfg.Hotword.TriggerRMS <= 0 {
			return errors.New("hotword.trigger_rms must be positive")
		}
		if cfg.Hotword.TriggerFrames <= 0 {
			return errors.New("hotword.trigger_frames must be positive")
		}
	case "always":
	default:
		return errors.New("hotword.mode must be one of energy|always")
	}
	if cfg.VAD.SilenceRMS <= 0 || cfg.VAD.SpeechRMS < cfg.VAD.SilenceRMS {
		return errors.New("vad.silence_rms must be positive and not above vad.speech_rms")
	}
	if err := validateSession(cfg.Session, cfg.Audio.SampleRate); err != nil {
		return err
	}
	switch cfg.STT.Mode {
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=exec")
		}
	case "native":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=native")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of exec|native|mock")
	}
	if cfg.STT.GPULayers < 0 {
		return errors.New("stt.gpu_layers must be >= 0")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	return nil
}

func validateAudio(cfg AudioConfig) error {
	switch cfg.Source {
	case "portaudio":
	case "wav":
		if cfg.InputPath == "" {
			return errors.New("audio.input_path must be set when source=wav")
		}
	case "bus":
		if cfg.BusSubject == "" {
			return errors.New("audio.bus_subject must be set when source=bus")
		}
	default:
		return errors.New("audio.source must be one of portaudio|wav|bus")
	}
	if cfg.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.FrameSamples <= 0 {
		return errors.New("audio.frame_samples must be positive")
	}
	if cfg.QueueFrames <= 0 {
		return errors.New("audio.queue_frames must be positive")
	}
	return nil
}

func validateSession(cfg SessionConfig, sampleRate int) error {
	if cfg.ChunkSamples <= 0 {
		return errors.New("session.chunk_samples must be positive")
	}
	for name, v := range map[string]float64{
		"first_overlap":      cfg.FirstOverlap,
		"subsequent_overlap": cfg.SubsequentOverlap,
		"skipped_overlap":    cfg.SkippedOverlap,
	} {
		if v < 0 || v >= 1 {
			return fmt.Errorf("session.%s must be in [0, 1)", name)
		}
	}
	if cfg.SubsequentOverlap > cfg.FirstOverlap {
		return errors.New("session.subsequent_overlap must not exceed session.first_overlap")
	}
	if cfg.SkippedOverlap < cfg.FirstOverlap {
		return errors.New("session.skipped_overlap must not be below session.first_overlap")
	}
	if cfg.SilenceFrames <= 0 {
		return errors.New("session.silence_frames must be positive")
	}
	if cfg.MinSpeechFrames < 0 {
		return errors.New("session.min_speech_frames must be >= 0")
	}
	if cfg.MinRMS < 0 || cfg.MinActivityRatio < 0 || cfg.MinActivityRatio > 1 {
		return errors.New("session gate thresholds out of range")
	}
	if cfg.ActivityAmplitude < 0 || cfg.ActivityAmplitude > 32767 {
		return errors.New("session.activity_amplitude must be in [0, 32767]")
	}
	maxSamples := cfg.MaxDurationMS * sampleRate / 1000
	if maxSamples <= cfg.ChunkSamples {
		return errors.New("session.max_duration_ms must cover more than one chunk")
	}
	if cfg.MinFinalTailFactor < 0 || cfg.MinFinalTailFactor > 1 {
		return errors.New("session.min_final_tail_factor must be in [0, 1]")
	}
	return nil
}
