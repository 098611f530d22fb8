package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	LogLevel  string
	LogFormat string

	JWTSecret string

	RedisURL string

	KafkaBrokers []string
	ReviewTopic  string

	DetectorEnabled bool
	ShutdownTimeout time.Duration

	// OTLPEndpoint is the collector spans are exported to; empty keeps them in-process.
	OTLPEndpoint string
}

const devJWTSecret = "dev-secret-change-me"

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	env := getEnv("ENVIRONMENT", "development")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if env != "development" {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s", env)
		}
		jwtSecret = devJWTSecret
	}

	detectorEnabled, err := strconv.ParseBool(getEnv("DETECTOR_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("DETECTOR_ENABLED: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		DBSource:        dbSource,
		Port:            getEnv("SERVER_PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		JWTSecret:       jwtSecret,
		RedisURL:        os.Getenv("REDIS_URL"),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		ReviewTopic:     getEnv("REVIEW_TOPIC", "ledger.suspicious"),
		DetectorEnabled: detectorEnabled,
		ShutdownTimeout: shutdownTimeout,
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
