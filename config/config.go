// Package config loads the process-wide configuration (C14): server
// ports/timeouts, default LLM provider/model, store backend selection,
// replay archive DSN, guardrail strictness default, and the
// RetryStrategy/CacheStrategy applied when a session's execute body omits
// config.
package config

import (
	"time"

	"github.com/browserpilot/engine/internal/telemetry"
	"github.com/browserpilot/engine/session"
)

// ServerConfig configures the HTTP boundary adapter's listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	JWTSecret       string        `yaml:"jwtSecret" env:"JWT_SECRET"`
	RateLimitRPS    float64       `yaml:"rateLimitRPS" env:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rateLimitBurst" env:"RATE_LIMIT_BURST"`
}

// StoreConfig selects and configures the durable session store (C11).
type StoreConfig struct {
	Backend string            `yaml:"backend" env:"BACKEND"` // "memory" | "redis"
	Redis   storageRedisAlias `yaml:"redis" env:"REDIS"`
}

// storageRedisAlias avoids an import cycle: config depends on storage's
// configuration shape but storage must never depend on config.
type storageRedisAlias struct {
	Addr                string        `yaml:"addr" env:"ADDR"`
	Password            string        `yaml:"password" env:"PASSWORD"`
	DB                  int           `yaml:"db" env:"DB"`
	DefaultTTL          time.Duration `yaml:"defaultTTL" env:"DEFAULT_TTL"`
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval" env:"HEALTH_CHECK_INTERVAL"`
}

// ReplayConfig configures the relational replay archive (C12).
type ReplayConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// LLMConfig configures the default provider selection and credentials.
type LLMConfig struct {
	DefaultProvider string `yaml:"defaultProvider" env:"DEFAULT_PROVIDER"`
	AnthropicAPIKey string `yaml:"anthropicAPIKey" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"openaiAPIKey" env:"OPENAI_API_KEY"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"` // debug|info|warn|error
	JSON  bool   `yaml:"json" env:"JSON"`
}

// TelemetryConfig configures the OTel SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"serviceName" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sampleRate" env:"SAMPLE_RATE"`
}

// ToTelemetry converts to the telemetry package's own Config shape.
func (t TelemetryConfig) ToTelemetry() telemetry.Config {
	return telemetry.Config{
		Enabled:      t.Enabled,
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SampleRate:   t.SampleRate,
	}
}

// Config is the complete process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Replay    ReplayConfig    `yaml:"replay" env:"REPLAY"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Session   session.Config  `yaml:"session" env:"SESSION"`
}
