package config

import (
	"time"

	"github.com/browserpilot/engine/session"
)

// DefaultConfig returns the process-wide configuration defaults, applied
// before any YAML file or environment variable override.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Store: StoreConfig{
			Backend: "memory",
			Redis: storageRedisAlias{
				Addr:                "localhost:6379",
				DefaultTTL:          24 * time.Hour,
				HealthCheckInterval: 30 * time.Second,
			},
		},
		Replay: ReplayConfig{DSN: "browserpilot_replay.db"},
		LLM:     DefaultLLMConfig(),
		Log:     LogConfig{Level: "info", JSON: true},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "browserpilot",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   0.1,
		},
		Session: session.DefaultConfig(),
	}
}

// DefaultServerConfig returns the HTTP server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultLLMConfig returns the LLM provider defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{DefaultProvider: "anthropic"}
}
