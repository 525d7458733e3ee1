package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport kinds accepted by CLEO_TRANSPORT and CLEO_FALLBACK_TRANSPORT.
const (
	TransportWebSocket = "websocket"
	TransportWebRTC    = "webrtc"
	TransportHybrid    = "hybrid"
)

// Config contains all runtime settings for the voice server and client.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	DatabaseURL string

	Client   ClientConfig
	Upstream UpstreamConfig
}

// ClientConfig drives the voice controller used by `cleo talk`.
type ClientConfig struct {
	APIBaseURL         string
	RelayURL           string
	SignalURL          string
	Transport          string
	FallbackTransport  string
	Model              string
	Voice              string
	Instructions       string
	SampleRate         int
	TurnDetection      string
	TranscriptionModel string
	DataChannelTimeout time.Duration
	ConfigAckTimeout   time.Duration
	MaxConfigAttempts  int
}

// UpstreamConfig holds the realtime provider endpoints the relay dials.
type UpstreamConfig struct {
	PrimaryWSURL   string
	PrimaryRTCURL  string
	PrimaryAPIKey  string
	FallbackWSURL  string
	FallbackRTCURL string
	FallbackAPIKey string
	FallbackModel  string
}

// HasFallback reports whether a secondary provider is configured.
func (u UpstreamConfig) HasFallback() bool {
	return u.FallbackWSURL != "" || u.FallbackRTCURL != ""
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "cleo"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "text"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		Client: ClientConfig{
			APIBaseURL:        envOrDefault("CLEO_API_BASE_URL", "http://localhost:8080"),
			RelayURL:          stringsTrimSpace("CLEO_RELAY_URL"),
			SignalURL:         stringsTrimSpace("CLEO_SIGNAL_URL"),
			Transport:         strings.ToLower(envOrDefault("CLEO_TRANSPORT", TransportWebSocket)),
			FallbackTransport: strings.ToLower(stringsTrimSpace("CLEO_FALLBACK_TRANSPORT")),
			Model:             envOrDefault("CLEO_MODEL", "gpt-4o-realtime-preview"),
			Voice:             envOrDefault("CLEO_VOICE", "alloy"),
			Instructions:      stringsTrimSpace("CLEO_INSTRUCTIONS"),
			SampleRate:        24000,
			// server_vad lets the upstream decide turn boundaries; "none" means push-to-talk.
			TurnDetection:      envOrDefault("CLEO_TURN_DETECTION", "server_vad"),
			TranscriptionModel: envOrDefault("CLEO_TRANSCRIPTION_MODEL", "whisper-1"),
			DataChannelTimeout: 5 * time.Second,
			ConfigAckTimeout:   10 * time.Second,
			MaxConfigAttempts:  3,
		},
		Upstream: UpstreamConfig{
			PrimaryWSURL:   envOrDefault("REALTIME_PRIMARY_WS_URL", "wss://api.openai.com/v1/realtime"),
			PrimaryRTCURL:  envOrDefault("REALTIME_PRIMARY_RTC_URL", "https://api.openai.com/v1/realtime"),
			PrimaryAPIKey:  stringsTrimSpace("REALTIME_PRIMARY_API_KEY"),
			FallbackWSURL:  stringsTrimSpace("REALTIME_FALLBACK_WS_URL"),
			FallbackRTCURL: stringsTrimSpace("REALTIME_FALLBACK_RTC_URL"),
			FallbackAPIKey: stringsTrimSpace("REALTIME_FALLBACK_API_KEY"),
			FallbackModel:  stringsTrimSpace("REALTIME_FALLBACK_MODEL"),
		},
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
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
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.Client.SampleRate, err = intFromEnv("CLEO_SAMPLE_RATE", cfg.Client.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.Client.DataChannelTimeout, err = durationFromEnv("CLEO_DATA_CHANNEL_TIMEOUT", cfg.Client.DataChannelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Client.ConfigAckTimeout, err = durationFromEnv("CLEO_CONFIG_ACK_TIMEOUT", cfg.Client.ConfigAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.Client.MaxConfigAttempts, err = intFromEnv("CLEO_MAX_CONFIG_ATTEMPTS", cfg.Client.MaxConfigAttempts)
	if err != nil {
		return Config{}, err
	}

	if cfg.Client.RelayURL == "" {
		cfg.Client.RelayURL, err = derivedWSURL(cfg.Client.APIBaseURL, "/voice/relay")
		if err != nil {
			return Config{}, err
		}
	}
	if cfg.Client.SignalURL == "" {
		cfg.Client.SignalURL, err = derivedWSURL(cfg.Client.APIBaseURL, "/voice/signal")
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if err := validTransport("CLEO_TRANSPORT", cfg.Client.Transport, false); err != nil {
		return Config{}, err
	}
	if err := validTransport("CLEO_FALLBACK_TRANSPORT", cfg.Client.FallbackTransport, true); err != nil {
		return Config{}, err
	}
	if cfg.Client.SampleRate < 8000 || cfg.Client.SampleRate > 48000 {
		return Config{}, fmt.Errorf("CLEO_SAMPLE_RATE must be between 8000 and 48000")
	}
	if cfg.Client.MaxConfigAttempts <= 0 {
		return Config{}, fmt.Errorf("CLEO_MAX_CONFIG_ATTEMPTS must be positive")
	}
	if cfg.Client.DataChannelTimeout <= 0 {
		return Config{}, fmt.Errorf("CLEO_DATA_CHANNEL_TIMEOUT must be positive")
	}
	if cfg.Client.ConfigAckTimeout <= 0 {
		return Config{}, fmt.Errorf("CLEO_CONFIG_ACK_TIMEOUT must be positive")
	}
	switch cfg.Client.TurnDetection {
	case "server_vad", "none":
	default:
		return Config{}, fmt.Errorf("CLEO_TURN_DETECTION must be server_vad or none")
	}

	return cfg, nil
}

func validTransport(key, v string, optional bool) error {
	switch v {
	case TransportWebSocket, TransportWebRTC, TransportHybrid:
		return nil
	case "":
		if optional {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of websocket, webrtc, hybrid", key)
}

// derivedWSURL swaps the scheme of base to ws/wss and appends path.
func derivedWSURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("CLEO_API_BASE_URL parse error: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("CLEO_API_BASE_URL must be http or https")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
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
