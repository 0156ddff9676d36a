package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config stores runtime configuration for the speech console. Values come
// from an optional TOML file overlaid with MEDVOICE_* environment variables;
// the environment always wins.
type Config struct {
	Speech    SpeechConfig    `toml:"speech"`
	Capture   CaptureConfig   `toml:"capture"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Remote    RemoteConfig    `toml:"remote"`
	Translate TranslateConfig `toml:"translate"`
	Terms     TermsConfig     `toml:"terms"`
	Session   SessionConfig   `toml:"session"`
	LogLevel  string          `toml:"log_level"`
}

type SpeechConfig struct {
	ServerURL      string `toml:"server_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	InterimResults bool   `toml:"interim_results"`
}

type CaptureConfig struct {
	SampleRate   int    `toml:"sample_rate"`
	Channels     int    `toml:"channels"`
	WindowFrames int    `toml:"window_frames"`
	Device       string `toml:"device"`
}

type SynthesisConfig struct {
	ServerURL string  `toml:"server_url"`
	Speed     float64 `toml:"speed"`
}

type RemoteConfig struct {
	CacheDir string  `toml:"cache_dir"`
	Speed    float64 `toml:"speed"`
}

type TranslateConfig struct {
	ServerURL         string `toml:"server_url"`
	APIKey            string `toml:"api_key"`
	TargetLanguage    string `toml:"target_language"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	BurstLimit        int    `toml:"burst_limit"`
	CacheSize         int    `toml:"cache_size"`
}

type TermsConfig struct {
	RulesPath string `toml:"rules_path"`
}

type SessionConfig struct {
	MaxInitAttempts      int           `toml:"max_init_attempts"`
	MaxRestartAttempts   int           `toml:"max_restart_attempts"`
	NoSpeechWindow       time.Duration `toml:"-"`
	NoSpeechRestartDelay time.Duration `toml:"-"`
	RestartSettle        time.Duration `toml:"-"`
	SpeechStartDeadline  time.Duration `toml:"-"`
	CatalogTimeout       time.Duration `toml:"-"`

	NoSpeechWindowMS       int `toml:"no_speech_window_ms"`
	NoSpeechRestartDelayMS int `toml:"no_speech_restart_delay_ms"`
	RestartSettleMS        int `toml:"restart_settle_ms"`
	SpeechStartDeadlineMS  int `toml:"speech_start_deadline_ms"`
	CatalogTimeoutMS       int `toml:"catalog_timeout_ms"`
}

// Load resolves configuration from the config file, environment variables
// and sensible defaults, in increasing order of priority.
func Load() (Config, error) {
	var cfg Config

	path := configFilePath()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load config file %q: %w", path, err)
			}
		}
	}

	cfg.Speech.ServerURL = envOrDefault("MEDVOICE_STT_URL", cfg.Speech.ServerURL)
	cfg.Speech.APIKey = envOrDefault("MEDVOICE_STT_API_KEY", cfg.Speech.APIKey)
	cfg.Speech.Model = envOrDefault("MEDVOICE_STT_MODEL", firstNonEmpty(cfg.Speech.Model, "base"))
	cfg.Speech.Language = envOrDefault("MEDVOICE_LANGUAGE", firstNonEmpty(cfg.Speech.Language, "en-US"))
	cfg.Speech.InterimResults = envOrDefaultBool("MEDVOICE_INTERIM_RESULTS", true)

	cfg.Capture.SampleRate = envOrDefaultInt("MEDVOICE_SAMPLE_RATE", intOrDefault(cfg.Capture.SampleRate, 16000))
	cfg.Capture.Channels = envOrDefaultInt("MEDVOICE_CHANNELS", intOrDefault(cfg.Capture.Channels, 1))
	cfg.Capture.WindowFrames = envOrDefaultInt("MEDVOICE_WINDOW_FRAMES", intOrDefault(cfg.Capture.WindowFrames, 2048))
	cfg.Capture.Device = envOrDefault("MEDVOICE_AUDIO_DEVICE", cfg.Capture.Device)

	cfg.Synthesis.ServerURL = envOrDefault("MEDVOICE_TTS_URL", firstNonEmpty(cfg.Synthesis.ServerURL, "http://localhost:8880"))
	cfg.Synthesis.Speed = envOrDefaultFloat("MEDVOICE_TTS_SPEED", floatOrDefault(cfg.Synthesis.Speed, 1.0))

	cfg.Remote.CacheDir = envOrDefault("MEDVOICE_REMOTE_CACHE_DIR", cfg.Remote.CacheDir)
	cfg.Remote.Speed = envOrDefaultFloat("MEDVOICE_REMOTE_SPEED", floatOrDefault(cfg.Remote.Speed, 1.0))

	cfg.Translate.ServerURL = envOrDefault("MEDVOICE_TRANSLATE_URL", cfg.Translate.ServerURL)
	cfg.Translate.APIKey = envOrDefault("MEDVOICE_TRANSLATE_API_KEY", cfg.Translate.APIKey)
	cfg.Translate.TargetLanguage = envOrDefault("MEDVOICE_TARGET_LANGUAGE", firstNonEmpty(cfg.Translate.TargetLanguage, "es"))
	cfg.Translate.RequestsPerMinute = envOrDefaultInt("MEDVOICE_TRANSLATE_RPM", intOrDefault(cfg.Translate.RequestsPerMinute, 50))
	cfg.Translate.BurstLimit = envOrDefaultInt("MEDVOICE_TRANSLATE_BURST", intOrDefault(cfg.Translate.BurstLimit, 10))
	cfg.Translate.CacheSize = envOrDefaultInt("MEDVOICE_TRANSLATE_CACHE", intOrDefault(cfg.Translate.CacheSize, 1000))

	cfg.Terms.RulesPath = envOrDefault("MEDVOICE_TERMS_RULES", firstNonEmpty(cfg.Terms.RulesPath, defaultRulesPath()))

	cfg.Session.MaxInitAttempts = envOrDefaultInt("MEDVOICE_MAX_INIT_ATTEMPTS", intOrDefault(cfg.Session.MaxInitAttempts, 3))
	cfg.Session.MaxRestartAttempts = envOrDefaultInt("MEDVOICE_MAX_RESTART_ATTEMPTS", intOrDefault(cfg.Session.MaxRestartAttempts, 3))
	cfg.Session.NoSpeechWindow = msSetting("MEDVOICE_NO_SPEECH_WINDOW_MS", cfg.Session.NoSpeechWindowMS, 10_000)
	cfg.Session.NoSpeechRestartDelay = msSetting("MEDVOICE_NO_SPEECH_RESTART_MS", cfg.Session.NoSpeechRestartDelayMS, 2_000)
	cfg.Session.RestartSettle = msSetting("MEDVOICE_RESTART_SETTLE_MS", cfg.Session.RestartSettleMS, 100)
	cfg.Session.SpeechStartDeadline = msSetting("MEDVOICE_SPEECH_START_DEADLINE_MS", cfg.Session.SpeechStartDeadlineMS, 3_000)
	cfg.Session.CatalogTimeout = msSetting("MEDVOICE_CATALOG_TIMEOUT_MS", cfg.Session.CatalogTimeoutMS, 5_000)

	cfg.LogLevel = envOrDefault("MEDVOICE_LOG_LEVEL", firstNonEmpty(cfg.LogLevel, "info"))

	return cfg, nil
}

func configFilePath() string {
	if path := strings.TrimSpace(os.Getenv("MEDVOICE_CONFIG_FILE")); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "medvoice", "config.toml")
}

func defaultRulesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "medvoice", "terminology.rules")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func msSetting(key string, fileValue, fallback int) time.Duration {
	ms := envOrDefaultInt(key, intOrDefault(fileValue, fallback))
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func floatOrDefault(value, fallback float64) float64 {
	if value <= 0 {
		return fallback
	}
	return value
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

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
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
