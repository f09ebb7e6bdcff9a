package config

import (
	"os"
	"strconv"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
)

// Config holds the runtime configuration for the call orchestrator.
type Config struct {
	Port        string
	Environment string
	InstanceID  string

	// Channel selection. One channel implementation is wired per process.
	Channel domain.ChannelType

	// WhatsApp Business calling configuration
	WhatsAppGraphBaseURL  string
	WhatsAppWebhookSecret string
	WhatsAppVerifyToken   string

	// Dev fallback credentials used when the integration account carries none
	FallbackAccessToken string
	FallbackAppSecret   string

	// JWT secret for routing-claim bearer tokens on webhook requests
	RoutingJWTSecret string

	// OpenAI realtime configuration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIVoice   string

	// Gemini live configuration
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	// WebRTC configuration
	STUNServers []string

	// Lifecycle tuning
	StartTimeout      time.Duration
	ShutdownTimeout   time.Duration
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	DedupeWindow      time.Duration

	// Webhook rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load builds the configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		InstanceID:  getEnvOrDefault("INSTANCE_ID", hostnameOrDefault("call-orchestrator-0")),

		Channel: domain.ChannelType(getEnvOrDefault("CALL_CHANNEL", string(domain.ChannelTypeWhatsApp))),

		WhatsAppGraphBaseURL:  getEnvOrDefault("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v21.0"),
		WhatsAppWebhookSecret: os.Getenv("WHATSAPP_WEBHOOK_SECRET"),
		WhatsAppVerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),

		FallbackAccessToken: os.Getenv("WHATSAPP_FALLBACK_ACCESS_TOKEN"),
		FallbackAppSecret:   os.Getenv("WHATSAPP_FALLBACK_APP_SECRET"),

		RoutingJWTSecret: os.Getenv("ROUTING_JWT_SECRET"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnvOrDefault("OPENAI_BASE_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIModel:   getEnvOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAIVoice:   getEnvOrDefault("OPENAI_REALTIME_VOICE", "alloy"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", "wss://generativelanguage.googleapis.com/ws"),
		GeminiModel:   getEnvOrDefault("GEMINI_LIVE_MODEL", "gemini-2.0-flash-live-001"),

		STUNServers: []string{getEnvOrDefault("STUN_SERVER", "stun:stun.l.google.com:19302")},

		StartTimeout:      getEnvDurationOrDefault("CALL_START_TIMEOUT", 8*time.Second),
		ShutdownTimeout:   getEnvDurationOrDefault("SHUTDOWN_TIMEOUT", 15*time.Second),
		InactivityTimeout: getEnvDurationOrDefault("CALL_INACTIVITY_TIMEOUT", 5*time.Minute),
		SweepInterval:     getEnvDurationOrDefault("CALL_SWEEP_INTERVAL", 30*time.Second),
		DedupeWindow:      getEnvDurationOrDefault("WEBHOOK_DEDUPE_WINDOW", 30*time.Second),

		RateLimitPerSecond: getEnvFloatOrDefault("WEBHOOK_RATE_LIMIT", 50),
		RateLimitBurst:     getEnvIntOrDefault("WEBHOOK_RATE_BURST", 100),
	}
}

func hostnameOrDefault(def string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
