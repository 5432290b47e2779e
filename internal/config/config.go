// Package config provides environment-based configuration for voicelink commands.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Defaults for the realtime endpoint.
const (
	DefaultEndpoint = "https://api.openai.com/v1/realtime"
	DefaultModel    = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice    = "alloy"
	DefaultPort     = "8088"
)

// ErrMissingAPIKey indicates OPENAI_API_KEY was not set.
var ErrMissingAPIKey = errors.New("config: OPENAI_API_KEY is required")

// Config holds everything a voicelink process needs to open a session.
type Config struct {
	// APIKey is the bearer credential for the realtime endpoint.
	APIKey string

	// Endpoint is the SDP negotiation endpoint.
	Endpoint string

	// Model is passed as the model query parameter during negotiation.
	Model string

	// Voice is the assistant voice identity.
	Voice string

	// SystemPrompt overrides the default persona instructions.
	SystemPrompt string

	// Server VAD tuning.
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	// DashboardPort is the local dashboard listen port.
	DashboardPort string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		APIKey:             os.Getenv("OPENAI_API_KEY"),
		Endpoint:           envOr("VOICELINK_ENDPOINT", DefaultEndpoint),
		Model:              envOr("VOICELINK_MODEL", DefaultModel),
		Voice:              envOr("VOICELINK_VOICE", DefaultVoice),
		SystemPrompt:       os.Getenv("VOICELINK_SYSTEM_PROMPT"),
		VADThreshold:       envFloat("VOICELINK_VAD_THRESHOLD", 0.5),
		VADPrefixPadding:   envDuration("VOICELINK_VAD_PREFIX_PADDING", 300*time.Millisecond),
		VADSilenceDuration: envDuration("VOICELINK_VAD_SILENCE", 500*time.Millisecond),
		DashboardPort:      envOr("VOICELINK_PORT", DefaultPort),
		LogLevel:           envOr("VOICELINK_LOG_LEVEL", "info"),
	}
}

// Validate reports configuration the process cannot run without.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
