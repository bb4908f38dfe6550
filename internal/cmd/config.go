package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from a YAML file with
// environment overrides for deployment.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		// DSN is the Postgres connection string. Empty disables persistence.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	NATS struct {
		// URL of the NATS server. Empty disables event publishing.
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Timers struct {
		// RecordTimeoutReporter records the role whose timeout check ended a
		// game instead of leaving the reporter unset.
		RecordTimeoutReporter bool `yaml:"record_timeout_reporter"`
	} `yaml:"timers"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// loadConfig reads the YAML config file when present and applies environment
// overrides. A missing file is not an error; defaults apply.
func loadConfig(path string) (*Config, error) {
	var config Config
	config.Server.Addr = ":8080"
	config.Server.AllowedOrigins = []string{"*"}
	config.Log.Level = "info"

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.Server.Addr = getEnv("ADDR", config.Server.Addr)
	config.Database.DSN = getEnv("DATABASE_URL", config.Database.DSN)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Timers.RecordTimeoutReporter = getEnvAsBool(
		"RECORD_TIMEOUT_REPORTER", config.Timers.RecordTimeoutReporter)

	return &config, nil
}
