package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DotEnvPath is read before the environment; variables already set win.
var DotEnvPath = ".env"

// Config contains all runtime settings for the call-center voice service.
type Config struct {
	BindAddr         string
	Env              string
	LogLevel         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	VoiceProvider string

	OpenAIAPIKey  string
	OpenAIOrgID   string
	OpenAIBaseURL string
	WhisperModel  string
	TTSModel      string
	TTSVoice      string
	TTSSpeed      float64
	TTSSampleRate int
	ChatModel     string
	MaxTokens     int
	Temperature   float64

	Persona      string
	HistoryTurns int

	FlushAfter     time.Duration
	StopFlushAfter time.Duration
	SendChunk      time.Duration
	SendPacing     time.Duration

	STTTimeout     time.Duration
	LLMTimeout     time.Duration
	TTSTimeout     time.Duration
	PersistTimeout time.Duration

	DatabaseURL      string
	StatusRedisURL   string
	SessionRetention time.Duration
}

// Development reports whether human-readable logging should be used.
func (c Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(DotEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", DotEnvPath, err)
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		Env:              strings.ToLower(envOrDefault("APP_ENV", "development")),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "aicc"),
		VoiceProvider:    strings.ToLower(envOrDefault("VOICE_PROVIDER", "auto")),
		OpenAIAPIKey:     trimmed("OPENAI_API_KEY"),
		OpenAIOrgID:      trimmed("OPENAI_ORG_ID"),
		OpenAIBaseURL:    trimmed("OPENAI_BASE_URL"),
		WhisperModel:     envOrDefault("WHISPER_MODEL", "whisper-1"),
		TTSModel:         envOrDefault("TTS_MODEL", "tts-1-hd"),
		TTSVoice:         envOrDefault("TTS_VOICE", "alloy"),
		ChatModel:        envOrDefault("GPT_MODEL", "gpt-4o"),
		Persona:          envOrDefault("CALL_PERSONA", "customer_support"),
		DatabaseURL:      trimmed("DATABASE_URL"),
		StatusRedisURL:   trimmed("STATUS_REDIS_URL"),
	}

	var errs []error
	durations := []struct {
		key      string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 15 * time.Second},
		{"CALL_FLUSH_SECONDS", &cfg.FlushAfter, 2 * time.Second},
		{"CALL_STOP_FLUSH_SECONDS", &cfg.StopFlushAfter, 500 * time.Millisecond},
		{"CALL_SEND_CHUNK", &cfg.SendChunk, 250 * time.Millisecond},
		{"CALL_SEND_PACING", &cfg.SendPacing, 20 * time.Millisecond},
		{"STT_TIMEOUT", &cfg.STTTimeout, 15 * time.Second},
		{"LLM_TIMEOUT", &cfg.LLMTimeout, 20 * time.Second},
		{"TTS_TIMEOUT", &cfg.TTSTimeout, 15 * time.Second},
		{"PERSIST_TIMEOUT", &cfg.PersistTimeout, 2 * time.Second},
		{"SESSION_RETENTION", &cfg.SessionRetention, 5 * time.Minute},
	}
	for _, d := range durations {
		v, err := durationFromEnv(d.key, d.fallback)
		errs = append(errs, err)
		*d.dst = v
	}

	var err error
	cfg.TTSSampleRate, err = intFromEnv("TTS_SAMPLE_RATE", 24000)
	errs = append(errs, err)
	cfg.MaxTokens, err = intFromEnv("GPT_MAX_TOKENS", 4096)
	errs = append(errs, err)
	cfg.HistoryTurns, err = intFromEnv("CALL_HISTORY_TURNS", 10)
	errs = append(errs, err)
	cfg.Temperature, err = floatFromEnv("GPT_TEMPERATURE", 0.7)
	errs = append(errs, err)
	cfg.TTSSpeed, err = floatFromEnv("TTS_SPEED", 1.0)
	errs = append(errs, err)
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.VoiceProvider {
	case "auto", "openai", "mock":
	default:
		return fmt.Errorf("VOICE_PROVIDER must be auto, openai or mock, got %q", c.VoiceProvider)
	}
	if c.VoiceProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("VOICE_PROVIDER=openai requires OPENAI_API_KEY")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if c.FlushAfter < 100*time.Millisecond {
		return fmt.Errorf("CALL_FLUSH_SECONDS must be at least 100ms")
	}
	if c.StopFlushAfter <= 0 || c.StopFlushAfter > c.FlushAfter {
		return fmt.Errorf("CALL_STOP_FLUSH_SECONDS must be positive and not exceed CALL_FLUSH_SECONDS")
	}
	if c.SendChunk < 20*time.Millisecond {
		return fmt.Errorf("CALL_SEND_CHUNK must be at least 20ms")
	}
	if c.SendPacing < 0 {
		return fmt.Errorf("CALL_SEND_PACING must be >= 0")
	}
	if c.HistoryTurns <= 0 {
		return fmt.Errorf("CALL_HISTORY_TURNS must be positive")
	}
	if c.TTSSampleRate < 8000 {
		return fmt.Errorf("TTS_SAMPLE_RATE must be at least 8000")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("GPT_MAX_TOKENS must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("GPT_TEMPERATURE must be within [0, 2]")
	}
	if c.TTSSpeed < 0.25 || c.TTSSpeed > 4 {
		return fmt.Errorf("TTS_SPEED must be within [0.25, 4]")
	}
	for key, d := range map[string]time.Duration{
		"STT_TIMEOUT":     c.STTTimeout,
		"LLM_TIMEOUT":     c.LLMTimeout,
		"TTS_TIMEOUT":     c.TTSTimeout,
		"PERSIST_TIMEOUT": c.PersistTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		return d, nil
	}
	// Bare numbers are seconds, so CALL_FLUSH_SECONDS=2 works.
	secs, ferr := strconv.ParseFloat(v, 64)
	if ferr != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
