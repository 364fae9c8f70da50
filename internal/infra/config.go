package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	QuotaCacheTTL  time.Duration
	PlanLimitsPath string

	ClaimLivenessWindow time.Duration

	PublishTimeout    time.Duration
	PublishMaxRetries int
	BatchConcurrency  int
	ProgressChannel   string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		QuotaCacheTTL:  time.Second * time.Duration(getEnvInt("QUOTA_CACHE_TTL_SECONDS", 60)),
		PlanLimitsPath: os.Getenv("PLAN_LIMITS_PATH"),

		ClaimLivenessWindow: time.Minute * time.Duration(getEnvInt("CLAIM_LIVENESS_MINUTES", 10)),

		PublishTimeout:    time.Second * time.Duration(getEnvInt("PUBLISH_TIMEOUT_SECONDS", 30)),
		PublishMaxRetries: getEnvInt("PUBLISH_MAX_RETRIES", 3),
		BatchConcurrency:  getEnvInt("BATCH_CONCURRENCY", 2),
		ProgressChannel:   getEnv("PROGRESS_CHANNEL", "pressroom_progress"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	if cfg.BatchConcurrency > 8 {
		cfg.BatchConcurrency = 8
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
