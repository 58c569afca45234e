package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// LLM providers
	LLMProvider         string
	LLMFallbackProvider string
	LLMMaxTokens        int
	LLMTimeout          time.Duration
	LLMStructuredOutput bool
	HistoryTokenBudget  int
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string
	AnthropicAPIKey     string
	AnthropicModelID    string

	// Session state
	SessionStore  string
	SessionTTL    time.Duration
	SessionsTable string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Persistence
	DatabaseURL    string
	ArchiveBucket  string
	AdminJWTSecret string

	// Events and notifications
	EventsBackend         string
	IntakeEventsQueueURL  string
	NATSURL               string
	NATSToken             string
	NotifyEmailProvider   string
	NotifyEmailRecipients []string
	SendGridAPIKey        string
	EmailFromAddress      string
	EmailFromName         string
	SESConfigurationSet   string
	WorkerCount           int
	WorkerBatchSize       int

	// HTTP surface
	CORSAllowedOrigins []string
	ChatRateLimitRPS   float64
	ChatRateLimitBurst int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 600),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		LLMStructuredOutput: getEnvAsBool("LLM_STRUCTURED_OUTPUT", true),
		HistoryTokenBudget:  getEnvAsInt("HISTORY_TOKEN_BUDGET", 6000),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModelID:    getEnv("ANTHROPIC_MODEL_ID", "claude-3-5-haiku-latest"),

		SessionStore:  strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", "memory"))),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionsTable: getEnv("SESSIONS_TABLE", "emma_intake_sessions"),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ArchiveBucket:  getEnv("ARCHIVE_BUCKET", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		EventsBackend:         strings.ToLower(strings.TrimSpace(getEnv("EVENTS_BACKEND", "memory"))),
		IntakeEventsQueueURL:  getEnv("INTAKE_EVENTS_QUEUE_URL", ""),
		NATSURL:               getEnv("NATS_URL", ""),
		NATSToken:             getEnv("NATS_TOKEN", ""),
		NotifyEmailProvider:   strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_EMAIL_PROVIDER", "stub"))),
		NotifyEmailRecipients: getEnvAsList("NOTIFY_EMAIL_RECIPIENTS"),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", "emma@example.com"),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "Emma Intake"),
		SESConfigurationSet:   getEnv("SES_CONFIGURATION_SET", ""),
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 2),
		WorkerBatchSize:       getEnvAsInt("WORKER_BATCH_SIZE", 5),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ChatRateLimitRPS:   getEnvAsFloat("CHAT_RATE_LIMIT_RPS", 1),
		ChatRateLimitBurst: getEnvAsInt("CHAT_RATE_LIMIT_BURST", 5),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
