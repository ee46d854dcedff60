// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Scoring
	ModelPath           string // isolation forest artifact; missing file falls back to the heuristic
	StrictCatalog       bool   // reject out-of-catalog categorical values instead of zero-encoding them
	NormalizationWindow int

	// Simulation
	GeneratorSeed      uint64
	WarmupDelay        time.Duration
	TickInterval       time.Duration
	PersistMaxAttempts int
	MaxFailedTicks     int

	// Streaming
	KafkaBrokers []string // optional; enables the Kafka sink
	KafkaTopic   string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64 // 1 samples every tick
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultModelPath           = "models/isoforest.json"
	DefaultNormalizationWindow = 512
	DefaultGeneratorSeed       = 13
	DefaultWarmupDelay         = 1500 * time.Millisecond
	DefaultTickInterval        = 800 * time.Millisecond
	DefaultPersistMaxAttempts  = 3
	DefaultMaxFailedTicks      = 5
	DefaultKafkaTopic          = "fraudradar.transactions"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ModelPath:           getEnv("MODEL_PATH", DefaultModelPath),
		StrictCatalog:       getEnvBool("STRICT_CATALOG", false),
		NormalizationWindow: int(getEnvInt64("NORMALIZATION_WINDOW", DefaultNormalizationWindow)),
		GeneratorSeed:       uint64(getEnvInt64("GENERATOR_SEED", DefaultGeneratorSeed)), //nolint:gosec // validated non-negative below
		WarmupDelay:         getEnvDuration("WARMUP_DELAY", DefaultWarmupDelay),
		TickInterval:        getEnvDuration("TICK_INTERVAL", DefaultTickInterval),
		PersistMaxAttempts:  int(getEnvInt64("PERSIST_MAX_ATTEMPTS", DefaultPersistMaxAttempts)),
		MaxFailedTicks:      int(getEnvInt64("MAX_FAILED_TICKS", DefaultMaxFailedTicks)),
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}

	if getEnvInt64("GENERATOR_SEED", DefaultGeneratorSeed) < 0 {
		return nil, fmt.Errorf("GENERATOR_SEED must be non-negative")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\", got %q", c.LogFormat)
	}
	if c.NormalizationWindow < 1 {
		return fmt.Errorf("NORMALIZATION_WINDOW must be at least 1")
	}
	if c.WarmupDelay < 0 {
		return fmt.Errorf("WARMUP_DELAY must not be negative")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.PersistMaxAttempts < 1 {
		return fmt.Errorf("PERSIST_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxFailedTicks < 1 {
		return fmt.Errorf("MAX_FAILED_TICKS must be at least 1")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1]")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("800ms") or bare seconds ("1.5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
