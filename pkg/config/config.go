// Package config reads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	StorageBackend string
	DataDir        string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	ApprovalSecret   string
	ApprovalTokenTTL time.Duration
	RiskRulesFile    string

	ArtifactStorage string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	GCSBucket       string
	GCSPrefix       string

	OTelEnabled  bool
	OTelEndpoint string

	RateLimitRPS   float64
	RateLimitBurst int
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Load loads configuration from environment variables. Unset variables
// take their defaults; malformed numbers and durations are errors.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      env("PORT", "8080"),
		LogLevel:  strings.ToUpper(env("LOG_LEVEL", "INFO")),
		LogFormat: strings.ToLower(env("LOG_FORMAT", "text")),

		DataDir:       env("DATA_DIR", "data"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		LLMProvider: strings.ToLower(env("LLM_PROVIDER", "openai")),
		LLMAPIKey:   os.Getenv("LLM_API_KEY"),
		LLMModel:    env("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:  os.Getenv("LLM_BASE_URL"),

		ApprovalSecret: os.Getenv("APPROVAL_SECRET"),
		RiskRulesFile:  os.Getenv("RISK_RULES_FILE"),

		ArtifactStorage: strings.ToLower(env("ARTIFACT_STORAGE_TYPE", "fs")),
		S3Bucket:        os.Getenv("ARTIFACT_S3_BUCKET"),
		S3Region:        env("ARTIFACT_S3_REGION", os.Getenv("AWS_REGION")),
		S3Endpoint:      os.Getenv("ARTIFACT_S3_ENDPOINT"),
		S3Prefix:        os.Getenv("ARTIFACT_S3_PREFIX"),
		GCSBucket:       os.Getenv("ARTIFACT_GCS_BUCKET"),
		GCSPrefix:       os.Getenv("ARTIFACT_GCS_PREFIX"),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	cfg.StorageBackend = strings.ToLower(os.Getenv("STORAGE_BACKEND"))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "sqlite"
		if cfg.DatabaseURL != "" {
			cfg.StorageBackend = "postgres"
		}
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LLMTimeout, err = durationEnv("LLM_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ApprovalTokenTTL, err = durationEnv("APPROVAL_TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if cfg.RateLimitRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
	} else {
		cfg.RateLimitRPS = 5
	}
	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
