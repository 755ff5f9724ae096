// Package config loads the orchestrator's layered configuration: compiled-in
// defaults, overridden by a YAML file, overridden by environment variables,
// overridden by CLI flags, in that precedence order (lowest to highest).
package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ServerConfig controls the orchestratord HTTP API.
type ServerConfig struct {
	Host        string        `koanf:"host"         validate:"required"`
	Port        int           `koanf:"port"         validate:"min=1,max=65535"`
	CORSEnabled bool          `koanf:"cors_enabled"`
	Timeout     time.Duration `koanf:"timeout"      validate:"min=0"`
}

// DatabaseConfig mirrors engine/infra/postgres.Config's connection fields.
type DatabaseConfig struct {
	ConnString      string        `koanf:"conn_string"`
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	DBName          string        `koanf:"db_name"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"min=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// RedisConfig configures the distributed lock used by the scheduler.
type RedisConfig struct {
	Addr     string `koanf:"addr"     validate:"required"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"       validate:"min=0"`
}

// SchedulerConfig tunes the cron-driven schedule poller.
type SchedulerConfig struct {
	TickInterval time.Duration `koanf:"tick_interval" validate:"min=0"`
}

// LimitsConfig bounds step-local and engine-wide resource usage.
type LimitsConfig struct {
	MaxAgentIterations       int           `koanf:"max_agent_iterations"         validate:"min=1"`
	DefaultStepTimeout       time.Duration `koanf:"default_step_timeout"         validate:"min=0"`
	DefaultApprovalTTL       time.Duration `koanf:"default_approval_ttl"         validate:"min=0"`
	MaxConcurrentStepsInWave int           `koanf:"max_concurrent_steps_in_wave" validate:"min=1"`
}

// RuntimeConfig carries ambient process-level settings.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"required"`
	LogLevel    string `koanf:"log_level"   validate:"required"`
}

// LLMConfig configures the Anthropic-backed Gateway (engine/llm).
type LLMConfig struct {
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	DefaultModel    string `koanf:"default_model"`
}

// Config is the orchestrator's complete runtime configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Limits    LimitsConfig    `koanf:"limits"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	LLM       LLMConfig       `koanf:"llm"`
}

// Default returns the configuration used when no provider overrides a field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSEnabled: true,
			Timeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			DBName:          "orchestra",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Scheduler: SchedulerConfig{
			TickInterval: 60 * time.Second,
		},
		Limits: LimitsConfig{
			MaxAgentIterations:       5,
			DefaultStepTimeout:       300 * time.Second,
			DefaultApprovalTTL:       24 * time.Hour,
			MaxConcurrentStepsInWave: 16,
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		LLM: LLMConfig{
			DefaultModel: "claude-sonnet-4-5",
		},
	}
}

var validate = validator.New()

// Validate reports the first struct-tag violation found in cfg.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
