package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with optional fields so a YAML file can
// override any subset of settings. Durations are written as strings in
// Go syntax ("250ms", "2s").
type fileConfig struct {
	BaseURL          *string `yaml:"base_url"`
	MaxPages         *int    `yaml:"max_pages"`
	Parallelism      *int    `yaml:"parallelism"`
	Delay            *string `yaml:"delay"`
	Timeout          *string `yaml:"timeout"`
	OutputFile       *string `yaml:"output_file"`
	OutputFormat     *string `yaml:"output_format"`
	UserAgent        *string `yaml:"user_agent"`
	LogFile          *string `yaml:"log_file"`
	RespectRobotsTxt *bool   `yaml:"respect_robots_txt"`
	MetricsAddr      *string `yaml:"metrics_addr"`
	StarCacheSize    *int    `yaml:"star_cache_size"`
}

// LoadFile overlays settings from a YAML file onto cfg. Fields absent
// from the file keep their current values; unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.BaseURL != nil {
		cfg.BaseURL = *fc.BaseURL
	}
	if fc.MaxPages != nil {
		cfg.MaxPages = *fc.MaxPages
	}
	if fc.Parallelism != nil {
		cfg.Parallelism = *fc.Parallelism
	}
	if fc.Delay != nil {
		delay, err := time.ParseDuration(*fc.Delay)
		if err != nil {
			return fmt.Errorf("parse delay %q: %w", *fc.Delay, err)
		}
		cfg.Delay = delay
	}
	if fc.Timeout != nil {
		timeout, err := time.ParseDuration(*fc.Timeout)
		if err != nil {
			return fmt.Errorf("parse timeout %q: %w", *fc.Timeout, err)
		}
		cfg.Timeout = timeout
	}
	if fc.OutputFile != nil {
		cfg.OutputFile = *fc.OutputFile
	}
	if fc.OutputFormat != nil {
		cfg.OutputFormat = *fc.OutputFormat
	}
	if fc.UserAgent != nil {
		cfg.UserAgent = *fc.UserAgent
	}
	if fc.LogFile != nil {
		cfg.LogFile = *fc.LogFile
	}
	if fc.RespectRobotsTxt != nil {
		cfg.RespectRobotsTxt = *fc.RespectRobotsTxt
	}
	if fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if fc.StarCacheSize != nil {
		cfg.StarCacheSize = *fc.StarCacheSize
	}

	return nil
}
