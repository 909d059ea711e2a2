package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	ServerHost       string
	ServerPort       string
	JWTSigningKey    string
	LogLevel         string

	OpenAIKey         string
	OpenAIBaseURL     string
	GeminiKey         string
	GeminiBaseURL     string
	DeepSeekKey       string
	DeepSeekBaseURL   string
	OpenRouterKey     string
	OpenRouterBaseURL string

	PricingFeedURL         string
	PricingRefreshInterval time.Duration
	RoutingRefreshInterval time.Duration

	HourlyCostLimit       float64
	PreflightCostEstimate float64
	StreamIdleTimeout     time.Duration
	MaxMessageChars       int
	MaxAttachmentBytes    int64
	MaxAttachments        int
	MaxMessages           int
	MaxRequestBytes       int64
	DefaultDailyLimit     int

	RateLimitPerMinute int
	CORSAllowedOrigin  string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("Не найден файл .env")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getEnv("POSTGRES_DB", "llmproxy"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		ServerHost:       getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		JWTSigningKey:    getEnv("JWT_SIGNING_KEY", "your-secret-signing-key"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),

		OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DeepSeekKey:       getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL:   getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		OpenRouterKey:     getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

		PricingFeedURL:         getEnv("PRICING_FEED_URL", "https://openrouter.ai/api/v1/models"),
		PricingRefreshInterval: getEnvDuration("PRICING_REFRESH_INTERVAL", 6*time.Hour),
		RoutingRefreshInterval: getEnvDuration("ROUTING_REFRESH_INTERVAL", 5*time.Minute),

		HourlyCostLimit:       getEnvFloat("HOURLY_COST_LIMIT", 50),
		PreflightCostEstimate: getEnvFloat("PREFLIGHT_COST_ESTIMATE", 0.01),
		StreamIdleTimeout:     getEnvDuration("STREAM_IDLE_TIMEOUT", 60*time.Second),
		MaxMessageChars:       getEnvInt("MAX_MESSAGE_CHARS", 100000),
		MaxAttachmentBytes:    int64(getEnvInt("MAX_ATTACHMENT_BYTES", 20*1024*1024)),
		MaxAttachments:        getEnvInt("MAX_ATTACHMENTS", 5),
		MaxMessages:           getEnvInt("MAX_MESSAGES", 100),
		MaxRequestBytes:       int64(getEnvInt("MAX_REQUEST_BYTES", 256*1024*1024)),
		DefaultDailyLimit:     getEnvInt("DEFAULT_DAILY_LIMIT", 100),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigin:  getEnv("CORS_ALLOWED_ORIGIN", "*"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("Некорректное значение %s=%q, используется %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logrus.Warnf("Некорректное значение %s=%q, используется %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logrus.Warnf("Некорректное значение %s=%q, используется %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
