package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the tournament service configuration. Values come from an optional
// YAML file (CONFIG_PATH) and are overridden by environment variables.
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		WriteRateLimit  int           `yaml:"write_rate_limit"`
		WriteRateWindow time.Duration `yaml:"write_rate_window"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Auth struct {
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Outbox struct {
		Enabled      bool          `yaml:"enabled"`
		PollInterval time.Duration `yaml:"poll_interval"`
		BatchSize    int           `yaml:"batch_size"`
	} `yaml:"outbox"`
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8000"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.WriteRateLimit = 30
	cfg.Server.WriteRateWindow = time.Minute
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Outbox.PollInterval = 5 * time.Second
	cfg.Outbox.BatchSize = 100
	cfg.LogLevel = "info"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path (when non-empty) over the defaults and then applies
// environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Server.WriteRateLimit = getEnvAsInt("WRITE_RATE_LIMIT", config.Server.WriteRateLimit)
	config.Auth.Secret = getEnv("JWT_SECRET", config.Auth.Secret)
	config.Auth.Issuer = getEnv("JWT_ISSUER", config.Auth.Issuer)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", config.NATS.SubjectPrefix)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	if value := os.Getenv("OUTBOX_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTBOX_ENABLED %q: %w", value, err)
		}
		config.Outbox.Enabled = enabled
	}

	if config.Server.WriteRateLimit < 0 {
		return nil, fmt.Errorf("write_rate_limit must not be negative, got %d", config.Server.WriteRateLimit)
	}
	return config, nil
}
