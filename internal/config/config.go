package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	Debug            bool

	DatabaseURL string

	CompletionMode      string
	CompletionAPIKey    string
	CompletionBaseURL   string
	CompletionModel     string
	CompletionMaxTokens int
	CompletionTimeout   time.Duration

	NotifyMode       string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioBaseURL    string
	ServiceNumber    string
	NotifyTimeout    time.Duration

	SystemPrompt   string
	ContextWindow  int
	BlockThreshold int
	Denylist       []string

	TextRestricted string
	TextBlocked    string
	TextWarning    string
	TextApology    string
}

// Load reads environment variables and applies safe defaults. The outbound
// texts default to the wording users already know; overriding them must keep
// the meaning stable.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "relay"),
		DatabaseURL:       envTrimmed("DATABASE_URL"),
		CompletionMode:    envOrDefault("COMPLETION_MODE", "auto"),
		CompletionAPIKey:  envTrimmed("OPENAI_API_KEY"),
		CompletionBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		CompletionModel:   envOrDefault("COMPLETION_MODEL", "gpt-3.5-turbo"),
		NotifyMode:        envOrDefault("NOTIFY_MODE", "auto"),
		TwilioAccountSID:  envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   envTrimmed("TWILIO_AUTH_TOKEN"),
		TwilioBaseURL:     envOrDefault("TWILIO_BASE_URL", "https://api.twilio.com"),
		ServiceNumber:     envOrDefault("TWILIO_FROM_NUMBER", "+14782494542"),
		SystemPrompt: envOrDefault("SYSTEM_PROMPT",
			"Eres un asistente personal que organiza agendas y ayuda a gestionar eventos, citas y tareas."),
		TextRestricted: envOrDefault("TEXT_RESTRICTED",
			"Tu acceso a Planify ha sido restringido debido al mal uso de la aplicación."),
		TextBlocked: envOrDefault("TEXT_BLOCKED",
			"Has sido bloqueado debido a múltiples mensajes inapropiados."),
		TextWarning: envOrDefault("TEXT_WARNING",
			"Advertencia: Tu mensaje no es relevante para el propósito de Planify. Tienes %d oportunidades restantes."),
		TextApology: envOrDefault("TEXT_APOLOGY",
			"Hubo un error procesando tu solicitud."),
		ShutdownTimeout:     15 * time.Second,
		CompletionMaxTokens: 150,
		CompletionTimeout:   60 * time.Second,
		NotifyTimeout:       15 * time.Second,
		ContextWindow:       10,
		BlockThreshold:      3,
	}

	if raw := envTrimmed("MODERATION_DENYLIST"); raw != "" {
		for _, term := range strings.Split(raw, ",") {
			term = strings.TrimSpace(term)
			if term != "" {
				cfg.Denylist = append(cfg.Denylist, term)
			}
		}
	}

	var err error
	cfg.Debug, err = boolFromEnv("APP_DEBUG", cfg.Debug)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.NotifyTimeout, err = durationFromEnv("NOTIFY_TIMEOUT", cfg.NotifyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextWindow, err = intFromEnv("CONTEXT_WINDOW", cfg.ContextWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.BlockThreshold, err = intFromEnv("BLOCK_THRESHOLD", cfg.BlockThreshold)
	if err != nil {
		return Config{}, err
	}

	if cfg.ContextWindow <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_WINDOW must be positive")
	}
	if cfg.BlockThreshold <= 0 {
		return Config{}, fmt.Errorf("BLOCK_THRESHOLD must be positive")
	}
	if cfg.CompletionMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.CompletionTimeout < time.Second {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT must be at least 1s")
	}
	if cfg.NotifyTimeout < time.Second {
		return Config{}, fmt.Errorf("NOTIFY_TIMEOUT must be at least 1s")
	}
	if !strings.Contains(cfg.TextWarning, "%d") {
		return Config{}, fmt.Errorf("TEXT_WARNING must contain a %%d placeholder for the remaining count")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
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
	v := envTrimmed(key)
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
	v := strings.ToLower(envTrimmed(key))
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
