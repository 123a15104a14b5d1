package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the caption engine. Values come
// from defaults, then an optional YAML file, then environment overrides.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Languages LanguagesConfig `yaml:"languages"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Sync      SyncConfig      `yaml:"sync"`
	Rules     RulesConfig     `yaml:"rules"`
	Bus       BusConfig       `yaml:"bus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ProviderConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base"`
	Model       string `yaml:"model"`
	SmartFormat bool   `yaml:"smart_format"`
}

type LanguagesConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Encoding   string `yaml:"encoding"`
	ChunkSize  int    `yaml:"chunk_size"`

	// Source selects where audio comes from: "stdin" (default) or "ffmpeg"
	// for local microphone capture.
	Source        string `yaml:"source"`
	InputFormat   string `yaml:"input_format"`
	InputDevice   string `yaml:"input_device"`
	FFmpegCommand string `yaml:"ffmpeg_command"`
}

// RulesConfig points at an optional caption corrections file.
type RulesConfig struct {
	Path      string `yaml:"path"`
	LoopLimit int    `yaml:"loop_limit"`
}

type SessionConfig struct {
	MaxDuration        time.Duration `yaml:"-"`
	RestartGuard       time.Duration `yaml:"-"`
	MinRestartInterval time.Duration `yaml:"-"`
	BackoffBase        time.Duration `yaml:"-"`
	BackoffCap         time.Duration `yaml:"-"`
	MaxRetries         int           `yaml:"max_retries"`

	MaxDurationMS        int `yaml:"max_duration_ms"`
	RestartGuardMS       int `yaml:"restart_guard_ms"`
	MinRestartIntervalMS int `yaml:"min_restart_interval_ms"`
	BackoffBaseMS        int `yaml:"backoff_base_ms"`
	BackoffCapMS         int `yaml:"backoff_cap_ms"`
}

type SyncConfig struct {
	FlushWindow time.Duration `yaml:"-"`
	DedupWindow time.Duration `yaml:"-"`

	FlushWindowMS     int     `yaml:"flush_window_ms"`
	DedupWindowMS     int     `yaml:"dedup_window_ms"`
	OverlapRatio      float64 `yaml:"overlap_ratio"`
	MinOverlapLen     int     `yaml:"min_overlap_len"`
	MaxBufferedChunks int     `yaml:"max_buffered_chunks"`
}

type BusConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Servers       []string `yaml:"servers"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Name          string   `yaml:"name"`
}

type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

// Load resolves configuration from defaults, the optional YAML file named by
// TRANLATER_CONFIG, and environment variable overrides, in that order.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("TRANLATER_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	resolveDurations(&cfg)

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Sync.OverlapRatio <= 0 || cfg.Sync.OverlapRatio > 1 {
		cfg.Sync.OverlapRatio = 0.70
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		Provider: ProviderConfig{
			APIBaseURL:  "https://api.speech.example.com/v1",
			Model:       "general",
			SmartFormat: true,
		},
		Languages: LanguagesConfig{Source: "en"},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			Encoding:    "linear16",
			ChunkSize:   4096,
			Source:      "stdin",
			InputFormat: "pulse",
			InputDevice: "default",
		},
		Session: SessionConfig{
			MaxDurationMS:        300000,
			RestartGuardMS:       30000,
			MinRestartIntervalMS: 1000,
			BackoffBaseMS:        500,
			BackoffCapMS:         10000,
			MaxRetries:           5,
		},
		Sync: SyncConfig{
			FlushWindowMS:     80,
			DedupWindowMS:     8000,
			OverlapRatio:      0.70,
			MinOverlapLen:     10,
			MaxBufferedChunks: 100,
		},
		Rules: RulesConfig{LoopLimit: 30},
		Bus: BusConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			SubjectPrefix: "tranlater",
			Name:          "tranlater",
		},
		Metrics: MetricsConfig{Bind: "127.0.0.1:9464"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Provider.APIKey = firstNonEmpty(
		os.Getenv("TRANLATER_API_KEY"),
		os.Getenv("SPEECH_API_KEY"),
		cfg.Provider.APIKey,
	)
	cfg.Provider.APIBaseURL = envOrDefault("TRANLATER_API_BASE", cfg.Provider.APIBaseURL)
	cfg.Provider.Model = envOrDefault("TRANLATER_MODEL", cfg.Provider.Model)
	cfg.Provider.SmartFormat = envOrDefaultBool("TRANLATER_SMART_FORMAT", cfg.Provider.SmartFormat)

	cfg.Languages.Source = envOrDefault("TRANLATER_SOURCE_LANGUAGE", cfg.Languages.Source)
	cfg.Languages.Target = envOrDefault("TRANLATER_TARGET_LANGUAGE", cfg.Languages.Target)

	cfg.Audio.SampleRate = envOrDefaultInt("TRANLATER_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("TRANLATER_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.Encoding = envOrDefault("TRANLATER_AUDIO_ENCODING", cfg.Audio.Encoding)
	cfg.Audio.ChunkSize = envOrDefaultInt("TRANLATER_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)
	cfg.Audio.Source = envOrDefault("TRANLATER_AUDIO_SOURCE", cfg.Audio.Source)
	cfg.Audio.InputFormat = envOrDefault("TRANLATER_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("TRANLATER_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.FFmpegCommand = envOrDefault("TRANLATER_FFMPEG", cfg.Audio.FFmpegCommand)

	cfg.Rules.Path = envOrDefault("TRANLATER_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.LoopLimit = envOrDefaultInt("TRANLATER_RULES_LOOP_LIMIT", cfg.Rules.LoopLimit)

	cfg.Session.MaxDurationMS = envOrDefaultInt("TRANLATER_SESSION_MAX_MS", cfg.Session.MaxDurationMS)
	cfg.Session.RestartGuardMS = envOrDefaultInt("TRANLATER_RESTART_GUARD_MS", cfg.Session.RestartGuardMS)
	cfg.Session.MinRestartIntervalMS = envOrDefaultInt("TRANLATER_MIN_RESTART_INTERVAL_MS", cfg.Session.MinRestartIntervalMS)
	cfg.Session.BackoffBaseMS = envOrDefaultInt("TRANLATER_BACKOFF_BASE_MS", cfg.Session.BackoffBaseMS)
	cfg.Session.BackoffCapMS = envOrDefaultInt("TRANLATER_BACKOFF_CAP_MS", cfg.Session.BackoffCapMS)
	cfg.Session.MaxRetries = envOrDefaultInt("TRANLATER_MAX_RETRIES", cfg.Session.MaxRetries)

	cfg.Sync.FlushWindowMS = envOrDefaultInt("TRANLATER_FLUSH_WINDOW_MS", cfg.Sync.FlushWindowMS)
	cfg.Sync.DedupWindowMS = envOrDefaultInt("TRANLATER_DEDUP_WINDOW_MS", cfg.Sync.DedupWindowMS)
	cfg.Sync.MinOverlapLen = envOrDefaultInt("TRANLATER_MIN_OVERLAP_LEN", cfg.Sync.MinOverlapLen)
	cfg.Sync.MaxBufferedChunks = envOrDefaultInt("TRANLATER_MAX_BUFFERED_CHUNKS", cfg.Sync.MaxBufferedChunks)
	if value := strings.TrimSpace(os.Getenv("TRANLATER_OVERLAP_RATIO")); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Sync.OverlapRatio = parsed
		}
	}

	cfg.Bus.Enabled = envOrDefaultBool("TRANLATER_BUS_ENABLED", cfg.Bus.Enabled)
	if servers := strings.TrimSpace(os.Getenv("TRANLATER_BUS_SERVERS")); servers != "" {
		cfg.Bus.Servers = strings.Split(servers, ",")
	}
	cfg.Bus.SubjectPrefix = envOrDefault("TRANLATER_BUS_SUBJECT_PREFIX", cfg.Bus.SubjectPrefix)

	cfg.Metrics.Bind = envOrDefault("TRANLATER_METRICS_BIND", cfg.Metrics.Bind)
}

func resolveDurations(cfg *Config) {
	cfg.Session.MaxDuration = millis(cfg.Session.MaxDurationMS, 300000)
	cfg.Session.RestartGuard = millis(cfg.Session.RestartGuardMS, 30000)
	cfg.Session.MinRestartInterval = millis(cfg.Session.MinRestartIntervalMS, 1000)
	cfg.Session.BackoffBase = millis(cfg.Session.BackoffBaseMS, 500)
	cfg.Session.BackoffCap = millis(cfg.Session.BackoffCapMS, 10000)
	cfg.Sync.FlushWindow = millis(cfg.Sync.FlushWindowMS, 80)
	cfg.Sync.DedupWindow = millis(cfg.Sync.DedupWindowMS, 8000)
}

func millis(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Millisecond
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
