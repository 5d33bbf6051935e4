package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// APIKey guards the HTTP API. Empty disables authentication, intended
	// for local development only.
	APIKey string `envconfig:"API_KEY"`

	// Memory retention window in days. Zero disables retention cleanup.
	RetentionDays int `envconfig:"RETENTION_DAYS" default:"0"`

	// Embedding backfill worker poll interval in seconds.
	EmbedPollSeconds int `envconfig:"EMBED_POLL_SECONDS" default:"15"`

	// Retention worker poll interval in seconds.
	RetentionPollSeconds int `envconfig:"RETENTION_POLL_SECONDS" default:"3600"`

	// Knowledge base query cache tuning.
	CacheTTLSeconds int `envconfig:"CACHE_TTL_SECONDS" default:"300"`
	CacheMaxEntries int `envconfig:"CACHE_MAX_ENTRIES" default:"100"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"loom-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Optional OpenAI-backed embeddings. Empty selects the local model.
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT"`
	SentrySampleRate  float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"1.0"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LOOM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
