package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Provider.APIBaseURL != "https://api.speech.example.com/v1" || cfg.Provider.Model != "general" {
		t.Fatalf("unexpected provider defaults: %+v", cfg.Provider)
	}
	if cfg.Languages.Source != "en" || cfg.Languages.Target != "" {
		t.Fatalf("unexpected language defaults: %+v", cfg.Languages)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.Encoding != "linear16" {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.Source != "stdin" || cfg.Audio.InputFormat != "pulse" {
		t.Fatalf("unexpected audio source defaults: %+v", cfg.Audio)
	}
	if cfg.Rules.Path != "" || cfg.Rules.LoopLimit != 30 {
		t.Fatalf("unexpected rules defaults: %+v", cfg.Rules)
	}
	if cfg.Session.MaxDuration != 300*time.Second || cfg.Session.RestartGuard != 30*time.Second {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Session.BackoffBase != 500*time.Millisecond || cfg.Session.BackoffCap != 10*time.Second || cfg.Session.MaxRetries != 5 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Session)
	}
	if cfg.Sync.FlushWindow != 80*time.Millisecond || cfg.Sync.DedupWindow != 8*time.Second {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Sync.OverlapRatio != 0.70 || cfg.Sync.MinOverlapLen != 10 || cfg.Sync.MaxBufferedChunks != 100 {
		t.Fatalf("unexpected dedup defaults: %+v", cfg.Sync)
	}
	if cfg.Bus.Enabled || cfg.Bus.SubjectPrefix != "tranlater" {
		t.Fatalf("unexpected bus defaults: %+v", cfg.Bus)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRANLATER_API_KEY", "env-key")
	t.Setenv("TRANLATER_TARGET_LANGUAGE", "es")
	t.Setenv("TRANLATER_SESSION_MAX_MS", "120000")
	t.Setenv("TRANLATER_FLUSH_WINDOW_MS", "40")
	t.Setenv("TRANLATER_OVERLAP_RATIO", "0.85")
	t.Setenv("TRANLATER_BUS_ENABLED", "true")
	t.Setenv("TRANLATER_BUS_SERVERS", "nats://a:4222,nats://b:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Provider.APIKey != "env-key" {
		t.Fatalf("unexpected api key: %q", cfg.Provider.APIKey)
	}
	if cfg.Languages.Target != "es" {
		t.Fatalf("unexpected target: %q", cfg.Languages.Target)
	}
	if cfg.Session.MaxDuration != 2*time.Minute {
		t.Fatalf("unexpected max duration: %s", cfg.Session.MaxDuration)
	}
	if cfg.Sync.FlushWindow != 40*time.Millisecond || cfg.Sync.OverlapRatio != 0.85 {
		t.Fatalf("unexpected sync overrides: %+v", cfg.Sync)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("unexpected bus overrides: %+v", cfg.Bus)
	}
}

func TestLoadFallbackAPIKey(t *testing.T) {
	t.Setenv("TRANLATER_API_KEY", "")
	t.Setenv("SPEECH_API_KEY", "legacy-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Provider.APIKey != "legacy-key" {
		t.Fatalf("expected fallback key, got %q", cfg.Provider.APIKey)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
provider:
  api_key: file-key
  model: enhanced
languages:
  source: de
  target: en
session:
  max_duration_ms: 60000
  max_retries: 3
sync:
  dedup_window_ms: 4000
  min_overlap_len: 6
bus:
  enabled: true
  subject_prefix: captions
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRANLATER_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Provider.APIKey != "file-key" || cfg.Provider.Model != "enhanced" {
		t.Fatalf("unexpected provider: %+v", cfg.Provider)
	}
	if cfg.Languages.Source != "de" || cfg.Languages.Target != "en" {
		t.Fatalf("unexpected languages: %+v", cfg.Languages)
	}
	if cfg.Session.MaxDuration != time.Minute || cfg.Session.MaxRetries != 3 {
		t.Fatalf("unexpected session: %+v", cfg.Session)
	}
	if cfg.Sync.DedupWindow != 4*time.Second || cfg.Sync.MinOverlapLen != 6 {
		t.Fatalf("unexpected sync: %+v", cfg.Sync)
	}
	if !cfg.Bus.Enabled || cfg.Bus.SubjectPrefix != "captions" {
		t.Fatalf("unexpected bus: %+v", cfg.Bus)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("languages:\n  target: fr\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRANLATER_CONFIG", path)
	t.Setenv("TRANLATER_TARGET_LANGUAGE", "ja")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Languages.Target != "ja" {
		t.Fatalf("environment must win over the file, got %q", cfg.Languages.Target)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("TRANLATER_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadSanitizesInvalidValues(t *testing.T) {
	t.Setenv("TRANLATER_SAMPLE_RATE", "not-a-number")
	t.Setenv("TRANLATER_OVERLAP_RATIO", "3.5")
	t.Setenv("TRANLATER_AUDIO_CHUNK_SIZE", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected sample rate fallback, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Sync.OverlapRatio != 0.70 {
		t.Fatalf("expected ratio fallback, got %v", cfg.Sync.OverlapRatio)
	}
	if cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("expected chunk size fallback, got %d", cfg.Audio.ChunkSize)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("HELPER_STR", "  value  ")
	if got := envOrDefault("HELPER_STR", "fallback"); got != "value" {
		t.Fatalf("envOrDefault: %q", got)
	}
	if got := envOrDefault("HELPER_STR_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("envOrDefault fallback: %q", got)
	}

	t.Setenv("HELPER_INT", "42")
	if got := envOrDefaultInt("HELPER_INT", 7); got != 42 {
		t.Fatalf("envOrDefaultInt: %d", got)
	}

	t.Setenv("HELPER_BOOL", "on")
	if !envOrDefaultBool("HELPER_BOOL", false) {
		t.Fatalf("envOrDefaultBool: expected true")
	}
	t.Setenv("HELPER_BOOL", "garbage")
	if envOrDefaultBool("HELPER_BOOL", false) {
		t.Fatalf("envOrDefaultBool: expected fallback")
	}

	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("firstNonEmpty: %q", got)
	}
}
