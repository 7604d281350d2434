package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/4kxz/godot-asset-list/config"
	"github.com/4kxz/godot-asset-list/models"
	"github.com/4kxz/godot-asset-list/pipeline"
	"github.com/4kxz/godot-asset-list/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The live catalog currently spans roughly 34 pages of 100 results, so
// the CLI defaults well below the library's page bound.
const defaultCrawlPages = 34

func main() {
	defaultCfg := config.DefaultConfig()

	pagesDefault, pagesFromEnv := defaultCrawlPages, false
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault, pagesFromEnv = value, true
	}
	parallelDefault, parallelFromEnv := defaultCfg.Parallelism, false
	if value, ok, err := config.EnvInt("SCRAPER_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault, parallelFromEnv = value, true
	}
	delayDefault, delayFromEnv := int(defaultCfg.Delay/time.Millisecond), false
	if value, ok, err := config.EnvDuration("SCRAPER_DELAY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_DELAY: %v\n", err)
		os.Exit(1)
	} else if ok {
		delayDefault, delayFromEnv = int(value/time.Millisecond), true
	}
	baseURLDefault, baseURLFromEnv := defaultCfg.BaseURL, false
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		baseURLDefault, baseURLFromEnv = value, true
	}
	outputDefault, outputFromEnv := defaultCfg.OutputFile, false
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault, outputFromEnv = value, true
	}
	metricsDefault, metricsFromEnv := defaultCfg.MetricsAddr, false
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault, metricsFromEnv = value, true
	}

	configPath := flag.String("config", "", "Optional YAML config file")
	maxPages := flag.Int("pages", pagesDefault, "Maximum catalog pages to scrape")
	parallelism := flag.Int("parallel", parallelDefault, "Number of concurrent asset extractions")
	delayMs := flag.Int("delay", delayDefault, "Delay after each successful request (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	logFile := flag.String("log-file", defaultCfg.LogFile, "Log file path (empty logs to stderr)")
	baseURL := flag.String("base-url", baseURLDefault, "Base URL of the asset catalog")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg := defaultCfg
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Explicit flags win over the config file, and so do env-derived
	// flag defaults.
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	if setFlags["pages"] || pagesFromEnv {
		cfg.MaxPages = *maxPages
	}
	if setFlags["parallel"] || parallelFromEnv {
		cfg.Parallelism = *parallelism
	}
	if setFlags["delay"] || delayFromEnv {
		cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	}
	if setFlags["base-url"] || baseURLFromEnv {
		cfg.BaseURL = *baseURL
	}
	if setFlags["output"] || outputFromEnv {
		cfg.OutputFile = *outputFile
	}
	if setFlags["metrics-addr"] || metricsFromEnv {
		cfg.MetricsAddr = *metricsAddr
	}
	if setFlags["format"] {
		cfg.OutputFormat = *outputFormat
	}
	if setFlags["log-file"] {
		cfg.LogFile = *logFile
	}
	if setFlags["respect-robots"] {
		cfg.RespectRobotsTxt = *respectRobots
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	cfg.Verbose = *verbose

	logger, err := newLogger(cfg.LogFile, cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
	)

	s, err := scraper.NewScraper(cfg, logger)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(writer)

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if runErr != nil {
		if result == nil {
			slog.Error("scraping failed", slog.Any("error", runErr))
			os.Exit(1)
		}
		slog.Warn("scrape interrupted, flushing partial results", slog.Any("error", runErr))
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("results saved", slog.String("file", cfg.OutputFile))

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime), cfg.OutputFile, p.GetMetrics())
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScrapeResult, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Total assets:  %d\n", result.TotalAssets)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if dedup, ok := metrics["dedup"].(map[string]int); ok && len(dedup) > 0 {
		fmt.Printf("  Dedup:         %v\n", dedup)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	assetsPerSec := 0.0
	if duration.Seconds() > 0 {
		assetsPerSec = float64(result.TotalAssets) / duration.Seconds()
	}
	fmt.Printf("  Assets/sec:    %.2f\n", assetsPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

// newLogger writes structured logs to the configured file, matching the
// append-only log stream the scraper has always produced. Verbose mode
// lowers the level to Debug and echoes everything to stderr.
func newLogger(logFile string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
		if verbose {
			out = io.MultiWriter(f, os.Stderr)
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}
