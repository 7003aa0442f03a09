package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/ent0n29/sahayak/internal/language"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	Timezone                 string
	DefaultLanguage          language.Code

	GatewayProvider       string
	GeminiAPIKey          string
	GeminiChatModel       string
	GeminiFastModel       string
	GeminiLiveModel       string
	GatewayOneShotTimeout time.Duration
	GatewayMaxRetries     int

	RemoteMicGrantTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "sahayak"),
		// The portal renders timestamps in Indian Standard Time.
		Timezone:        envOrDefault("APP_TIMEZONE", "Asia/Kolkata"),
		GatewayProvider: strings.ToLower(envOrDefault("GATEWAY_PROVIDER", "auto")),
		GeminiAPIKey:    stringsTrimSpace("GEMINI_API_KEY"),
		GeminiChatModel: envOrDefault("GEMINI_CHAT_MODEL", "gemini-3-pro-preview"),
		GeminiFastModel: envOrDefault("GEMINI_FAST_MODEL", "gemini-3-flash-preview"),
		GeminiLiveModel: envOrDefault("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		GatewayOneShotTimeout:    30 * time.Second,
		GatewayMaxRetries:        2,
		RemoteMicGrantTimeout:    10 * time.Second,
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = stringsTrimSpace("API_KEY")
	}

	rawLang := stringsTrimSpace("APP_DEFAULT_LANGUAGE")
	if rawLang == "" {
		cfg.DefaultLanguage = language.English
	} else {
		lang, ok := language.Parse(rawLang)
		if !ok {
			return Config{}, fmt.Errorf("APP_DEFAULT_LANGUAGE %q is not a supported language", rawLang)
		}
		cfg.DefaultLanguage = lang
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayOneShotTimeout, err = durationFromEnv("GATEWAY_ONESHOT_TIMEOUT", cfg.GatewayOneShotTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RemoteMicGrantTimeout, err = durationFromEnv("REMOTE_MIC_GRANT_TIMEOUT", cfg.RemoteMicGrantTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayMaxRetries, err = intFromEnv("GATEWAY_MAX_RETRIES", cfg.GatewayMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.GatewayOneShotTimeout < time.Second {
		return Config{}, fmt.Errorf("GATEWAY_ONESHOT_TIMEOUT must be at least 1s")
	}
	if cfg.GatewayMaxRetries < 0 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_RETRIES must be >= 0")
	}
	if cfg.RemoteMicGrantTimeout <= 0 {
		return Config{}, fmt.Errorf("REMOTE_MIC_GRANT_TIMEOUT must be positive")
	}
	switch cfg.GatewayProvider {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("GATEWAY_PROVIDER must be one of auto, gemini, mock")
	}
	if cfg.GatewayProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GATEWAY_PROVIDER=gemini requires GEMINI_API_KEY")
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
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
