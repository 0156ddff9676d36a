package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearMedvoiceEnv(t *testing.T) {
	t.Helper()
	for _, entry := range os.Environ() {
		key, _, _ := strings.Cut(entry, "=")
		if strings.HasPrefix(key, "MEDVOICE_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearMedvoiceEnv(t)
	t.Setenv("MEDVOICE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Speech.Model != "base" {
		t.Fatalf("Speech.Model = %q, want base", cfg.Speech.Model)
	}
	if cfg.Speech.Language != "en-US" {
		t.Fatalf("Speech.Language = %q, want en-US", cfg.Speech.Language)
	}
	if !cfg.Speech.InterimResults {
		t.Fatalf("Speech.InterimResults = false, want true")
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.Channels != 1 || cfg.Capture.WindowFrames != 2048 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Synthesis.ServerURL != "http://localhost:8880" {
		t.Fatalf("Synthesis.ServerURL = %q", cfg.Synthesis.ServerURL)
	}
	if cfg.Synthesis.Speed != 1.0 {
		t.Fatalf("Synthesis.Speed = %v, want 1.0", cfg.Synthesis.Speed)
	}
	if cfg.Translate.TargetLanguage != "es" {
		t.Fatalf("Translate.TargetLanguage = %q, want es", cfg.Translate.TargetLanguage)
	}
	if cfg.Translate.RequestsPerMinute != 50 || cfg.Translate.BurstLimit != 10 || cfg.Translate.CacheSize != 1000 {
		t.Fatalf("unexpected translate defaults: %+v", cfg.Translate)
	}
	if cfg.Session.MaxInitAttempts != 3 || cfg.Session.MaxRestartAttempts != 3 {
		t.Fatalf("unexpected session attempts: %+v", cfg.Session)
	}
	if cfg.Session.NoSpeechWindow != 10*time.Second {
		t.Fatalf("NoSpeechWindow = %v, want 10s", cfg.Session.NoSpeechWindow)
	}
	if cfg.Session.NoSpeechRestartDelay != 2*time.Second {
		t.Fatalf("NoSpeechRestartDelay = %v, want 2s", cfg.Session.NoSpeechRestartDelay)
	}
	if cfg.Session.RestartSettle != 100*time.Millisecond {
		t.Fatalf("RestartSettle = %v, want 100ms", cfg.Session.RestartSettle)
	}
	if cfg.Session.SpeechStartDeadline != 3*time.Second {
		t.Fatalf("SpeechStartDeadline = %v, want 3s", cfg.Session.SpeechStartDeadline)
	}
	if cfg.Session.CatalogTimeout != 5*time.Second {
		t.Fatalf("CatalogTimeout = %v, want 5s", cfg.Session.CatalogTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearMedvoiceEnv(t)
	t.Setenv("MEDVOICE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MEDVOICE_STT_URL", "ws://stt.internal:9000")
	t.Setenv("MEDVOICE_STT_MODEL", "medium")
	t.Setenv("MEDVOICE_LANGUAGE", "es-MX")
	t.Setenv("MEDVOICE_INTERIM_RESULTS", "false")
	t.Setenv("MEDVOICE_SAMPLE_RATE", "44100")
	t.Setenv("MEDVOICE_TTS_SPEED", "1.25")
	t.Setenv("MEDVOICE_TARGET_LANGUAGE", "fr")
	t.Setenv("MEDVOICE_NO_SPEECH_WINDOW_MS", "2500")
	t.Setenv("MEDVOICE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Speech.ServerURL != "ws://stt.internal:9000" {
		t.Fatalf("Speech.ServerURL = %q", cfg.Speech.ServerURL)
	}
	if cfg.Speech.Model != "medium" {
		t.Fatalf("Speech.Model = %q", cfg.Speech.Model)
	}
	if cfg.Speech.Language != "es-MX" {
		t.Fatalf("Speech.Language = %q", cfg.Speech.Language)
	}
	if cfg.Speech.InterimResults {
		t.Fatalf("Speech.InterimResults = true, want false")
	}
	if cfg.Capture.SampleRate != 44100 {
		t.Fatalf("Capture.SampleRate = %d", cfg.Capture.SampleRate)
	}
	if cfg.Synthesis.Speed != 1.25 {
		t.Fatalf("Synthesis.Speed = %v", cfg.Synthesis.Speed)
	}
	if cfg.Translate.TargetLanguage != "fr" {
		t.Fatalf("Translate.TargetLanguage = %q", cfg.Translate.TargetLanguage)
	}
	if cfg.Session.NoSpeechWindow != 2500*time.Millisecond {
		t.Fatalf("NoSpeechWindow = %v", cfg.Session.NoSpeechWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearMedvoiceEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "warn"

[speech]
server_url = "ws://file-stt:7000"
model = "small"

[synthesis]
server_url = "http://file-tts:8880"
speed = 0.9

[session]
no_speech_window_ms = 4000
max_restart_attempts = 5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MEDVOICE_CONFIG_FILE", path)
	// Environment still wins over the file.
	t.Setenv("MEDVOICE_STT_MODEL", "large")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Speech.ServerURL != "ws://file-stt:7000" {
		t.Fatalf("Speech.ServerURL = %q", cfg.Speech.ServerURL)
	}
	if cfg.Speech.Model != "large" {
		t.Fatalf("Speech.Model = %q, want env override large", cfg.Speech.Model)
	}
	if cfg.Synthesis.ServerURL != "http://file-tts:8880" {
		t.Fatalf("Synthesis.ServerURL = %q", cfg.Synthesis.ServerURL)
	}
	if cfg.Synthesis.Speed != 0.9 {
		t.Fatalf("Synthesis.Speed = %v", cfg.Synthesis.Speed)
	}
	if cfg.Session.NoSpeechWindow != 4*time.Second {
		t.Fatalf("NoSpeechWindow = %v", cfg.Session.NoSpeechWindow)
	}
	if cfg.Session.MaxRestartAttempts != 5 {
		t.Fatalf("MaxRestartAttempts = %d", cfg.Session.MaxRestartAttempts)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	clearMedvoiceEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("speech = not valid"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MEDVOICE_CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() = nil error, want parse failure")
	}
}
