/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config covers process-level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Station manifest (read once at startup; see internal/station).
	StationManifestPath string

	// Streaming sink (shoutcast/icecast-compatible HTTP PUT egress).
	SinkURL          string
	SinkUsername     string
	SinkPassword     string
	SinkContentType  string
	SinkQueueDepth   int
	SinkMaxAttempts  int
	SinkInitialDelay time.Duration
	SinkMaxDelay     time.Duration

	// Connection session keep-alive.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Shutdown grace period.
	ShutdownGrace time.Duration

	// Tracing configuration.
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("STUDIOSIGNAL_ENV", "development"),
		HTTPBind:    getEnv("STUDIOSIGNAL_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("STUDIOSIGNAL_HTTP_PORT", 6736),
		MetricsBind: getEnv("STUDIOSIGNAL_METRICS_BIND", ""),

		StationManifestPath: getEnv("STUDIOSIGNAL_STATION_MANIFEST", "./station.yaml"),

		SinkURL:          getEnv("STUDIOSIGNAL_SINK_URL", ""),
		SinkUsername:     getEnv("STUDIOSIGNAL_SINK_USERNAME", "source"),
		SinkPassword:     getEnv("STUDIOSIGNAL_SINK_PASSWORD", ""),
		SinkContentType:  getEnv("STUDIOSIGNAL_SINK_CONTENT_TYPE", "audio/webm"),
		SinkQueueDepth:   getEnvInt("STUDIOSIGNAL_SINK_QUEUE_DEPTH", 64),
		SinkMaxAttempts:  getEnvInt("STUDIOSIGNAL_SINK_MAX_ATTEMPTS", 10),
		SinkInitialDelay: time.Duration(getEnvInt("STUDIOSIGNAL_SINK_INITIAL_DELAY_SECONDS", 5)) * time.Second,
		SinkMaxDelay:     time.Duration(getEnvInt("STUDIOSIGNAL_SINK_MAX_DELAY_SECONDS", 60)) * time.Second,

		PingInterval: time.Duration(getEnvInt("STUDIOSIGNAL_PING_INTERVAL_SECONDS", 30)) * time.Second,
		PongTimeout:  time.Duration(getEnvInt("STUDIOSIGNAL_PONG_TIMEOUT_SECONDS", 45)) * time.Second,

		ShutdownGrace: time.Duration(getEnvInt("STUDIOSIGNAL_SHUTDOWN_GRACE_SECONDS", 5)) * time.Second,

		TracingEnabled:    getEnvBool("STUDIOSIGNAL_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("STUDIOSIGNAL_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("STUDIOSIGNAL_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.PongTimeout <= cfg.PingInterval {
		return nil, fmt.Errorf("STUDIOSIGNAL_PONG_TIMEOUT_SECONDS must be greater than STUDIOSIGNAL_PING_INTERVAL_SECONDS")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.SinkURL != "" && cfg.SinkPassword == "" {
			return nil, fmt.Errorf("STUDIOSIGNAL_SINK_PASSWORD must be set in production when a sink URL is configured")
		}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		v := strings.ToLower(strings.TrimSpace(val))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
