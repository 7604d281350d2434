package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	MaxPages         int
	Parallelism      int
	Delay            time.Duration
	Timeout          time.Duration
	OutputFile       string
	OutputFormat     string // csv, json, or dual
	UserAgent        string
	LogFile          string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string
	StarCacheSize    int
}

// DefaultConfig returns defaults for the asset catalog. MaxPages is an
// upper bound; callers crawling the live catalog usually pass something
// far smaller. The output filename carries the run's date.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://godotengine.org",
		MaxPages:         1000,
		Parallelism:      1,
		Delay:            100 * time.Millisecond,
		Timeout:          10 * time.Second,
		OutputFile:       fmt.Sprintf("output/godot_assets_%s.csv", time.Now().Format("2006-01-02")),
		OutputFormat:     "csv",
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		LogFile:          "godot_scraper.log",
		Verbose:          false,
		RespectRobotsTxt: false,
		MetricsAddr:      "",
		StarCacheSize:    2048,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.StarCacheSize < 0 {
		return fmt.Errorf("star cache size cannot be negative")
	}

	return nil
}
