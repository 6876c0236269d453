package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultBaseURL = "https://ragmetrics.ai"

type Config struct {
	// Backend
	APIKey  string
	BaseURL string // default: https://ragmetrics.ai

	// Delivery
	QueueSize   int           // pending records before drop-oldest, default: 256
	SendTimeout time.Duration // per-record network timeout, default: 10s

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:               os.Getenv("RAGMETRICS_API_KEY"),
		BaseURL:              getEnv("RAGMETRICS_BASE_URL", DefaultBaseURL),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	sizeStr := getEnv("RAGMETRICS_QUEUE_SIZE", "256")
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("invalid RAGMETRICS_QUEUE_SIZE: %q", sizeStr)
	}
	cfg.QueueSize = size

	timeoutStr := getEnv("RAGMETRICS_SEND_TIMEOUT_MS", "10000")
	timeoutMs, err := strconv.ParseInt(timeoutStr, 10, 64)
	if err != nil || timeoutMs <= 0 {
		return nil, fmt.Errorf("invalid RAGMETRICS_SEND_TIMEOUT_MS: %q", timeoutStr)
	}
	cfg.SendTimeout = time.Duration(timeoutMs) * time.Millisecond

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
