package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	DatabaseURL       string
	StoragePath       string
	StorageBaseURL    string
	PromptProvider    string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	MaxConcurrentJobs int
	StepTimeout       time.Duration
	StepMaxAttempts   int
	SubscriberBuffer  int
	ReconcileCron     string
	ReconcileMinAge   time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		PromptProvider:    getEnv("PROMPT_PROVIDER", "gemini"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 4),
		StepTimeout:       time.Second * time.Duration(getEnvInt("STEP_TIMEOUT_SECONDS", 300)),
		StepMaxAttempts:   getEnvInt("STEP_MAX_ATTEMPTS", 3),
		SubscriberBuffer:  getEnvInt("SUBSCRIBER_BUFFER", 32),
		ReconcileCron:     getEnv("RECONCILE_CRON", "*/5 * * * *"),
		ReconcileMinAge:   time.Second * time.Duration(getEnvInt("RECONCILE_MIN_AGE_SECONDS", 300)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Zero write timeout: progress streams stay open for the life of a job.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
