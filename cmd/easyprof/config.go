package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults that can be provided via --config.
type Config struct {
	// Statistics controls whether block statistics are gathered while reading. It defaults to true.
	Statistics *bool `yaml:"statistics"`
	Sequential bool  `yaml:"sequential"`
	// ExactTime converts ticks to nanoseconds with integer arithmetic instead of floating point.
	ExactTime bool   `yaml:"exact_time"`
	LogLevel  string `yaml:"log_level"`
	Top       int    `yaml:"top"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "warn",
		Top:      10,
	}
}

func (cfg *Config) gatherStatistics() bool {
	return cfg.Statistics == nil || *cfg.Statistics
}

// LoadConfig reads a YAML configuration file. Fields missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Top < 0 {
		return Config{}, fmt.Errorf("invalid config %s: top must not be negative", path)
	}
	return cfg, nil
}
