package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort      string        `mapstructure:"server_port" validate:"required,numeric"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// OpenTelemetry settings
	OTelEnabled    bool          `mapstructure:"otel_enabled"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint" validate:"required_if=OTelEnabled true"`
	ServiceName    string        `mapstructure:"service_name" validate:"required"`
	Environment    string        `mapstructure:"environment" validate:"required"`
	ExportInterval time.Duration `mapstructure:"export_interval" validate:"gt=0"`

	// Task store settings
	MaxTasks int `mapstructure:"max_tasks" validate:"gt=0"`

	// Auth settings
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"server_port":      "SERVER_PORT",
	"request_timeout":  "REQUEST_TIMEOUT",
	"shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"log_level":        "LOG_LEVEL",
	"otel_enabled":     "OTEL_ENABLED",
	"otlp_endpoint":    "OTEL_EXPORTER_OTLP_ENDPOINT",
	"service_name":     "OTEL_SERVICE_NAME",
	"environment":      "ENVIRONMENT",
	"export_interval":  "OTEL_METRIC_EXPORT_INTERVAL",
	"max_tasks":        "TASK_MAX_RECORDS",
	"jwt_secret":       "AUTH_JWT_SECRET",
	"token_lifetime":   "AUTH_TOKEN_LIFETIME",
}

// Load reads configuration from environment variables with sensible
// defaults. When CONFIG_FILE is set, that file is read first and the
// environment overrides it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_port", "8080")
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_enabled", true)
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("service_name", "taskboard")
	v.SetDefault("environment", "development")
	v.SetDefault("export_interval", 10*time.Second)
	v.SetDefault("max_tasks", 1000)
	v.SetDefault("token_lifetime", 24*time.Hour)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("failed to bind CONFIG_FILE: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
