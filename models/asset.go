// Package models defines data structures for the scraper.
package models

import "time"

// Asset represents one catalog entry together with its repository
// metadata. Stars holds the score exactly as scraped ("1.2k", "340",
// or "0" when the repository host is unknown); normalization to a
// number happens only at export time.
type Asset struct {
	Name         string `csv:"name" json:"name"`
	AssetURL     string `csv:"asset_url" json:"asset_url"`
	RepoURL      string `csv:"repo_url" json:"repo_url"`
	Stars        string `csv:"stars" json:"stars"`
	GodotVersion string `csv:"godot_version" json:"godot_version"`
	LastUpdated  string `csv:"last_updated" json:"last_updated"`
}

// ScrapeResult holds the overall result of a scraping run
type ScrapeResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalAssets  int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RequestCount int
	PageCount    int
}
