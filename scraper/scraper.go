package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/4kxz/godot-asset-list/config"
	"github.com/4kxz/godot-asset-list/models"
	"github.com/4kxz/godot-asset-list/pipeline"
	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	listingPath       = "/asset-library/asset"
	listingPageSize   = 100
	listingSortKey    = "updated"
	assetItemSelector = ".asset-item"
)

// Scraper walks the asset catalog page by page and feeds extracted
// records into the pipeline. Failed pages are skipped and failed assets
// recorded; nothing aborts the run.
type Scraper struct {
	cfg       *config.Config
	fetcher   *Fetcher
	logger    *slog.Logger
	starCache *lru.Cache[string, string]
	Metrics   *Metrics

	pageCount int64

	mu         sync.Mutex
	failedURLs map[string]struct{}
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config, logger *slog.Logger) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scraper{
		cfg:        cfg,
		logger:     logger,
		failedURLs: make(map[string]struct{}),
		Metrics:    NewMetrics(),
	}

	if cfg.StarCacheSize > 0 {
		cache, err := lru.New[string, string](cfg.StarCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create star cache: %w", err)
		}
		s.starCache = cache
	}

	fetcher, err := NewFetcher(cfg, logger, s.Metrics)
	if err != nil {
		return nil, err
	}
	s.fetcher = fetcher

	return s, nil
}

// Run crawls pages 0..MaxPages-1 and streams extracted records into p
// in listing order. A cancelled context stops the crawl after the
// current page; the partial result is returned alongside the context
// error so callers can still flush it.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	for page := 0; page < s.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			s.logger.Info("scrape interrupted", slog.Int("page", page+1))
			return s.finalize(start, p), ctx.Err()
		}
		s.logger.Info("scraping page",
			slog.Int("page", page+1),
			slog.Int("max_pages", s.cfg.MaxPages),
		)
		s.scrapePage(ctx, p, page)
	}

	result := s.finalize(start, p)
	s.logger.Info("scraping completed",
		slog.Int("total_assets", result.TotalAssets),
		slog.Int("failed_urls", len(result.FailedURLs)),
	)
	return result, nil
}

// scrapePage fetches one listing page and processes its entries. A page
// whose fetch fails produces nothing and the run moves on.
func (s *Scraper) scrapePage(ctx context.Context, p *pipeline.Pipeline, page int) {
	atomic.AddInt64(&s.pageCount, 1)
	s.Metrics.IncPages()

	pageURL := fmt.Sprintf("%s%s?max_results=%d&page=%d&sort=%s",
		s.cfg.BaseURL, listingPath, listingPageSize, page, listingSortKey)
	doc := s.fetcher.Fetch(ctx, pageURL)
	if doc == nil {
		return
	}

	entries := doc.Find(assetItemSelector)
	for _, asset := range s.extractEntries(ctx, entries) {
		if asset == nil {
			continue
		}
		s.logger.Info("scraped asset", slog.String("name", asset.Name))
		s.Metrics.IncAssets()
		if err := p.Process(asset); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
			s.logger.Error("pipeline process error", slog.Any("error", err))
		}
	}
}

// extractEntries extracts every listing entry on a page. With
// Parallelism 1 the walk is strictly sequential. Otherwise entries are
// fetched by a bounded pool; results keep their listing index so the
// dedup merge downstream still sees them in page order.
func (s *Scraper) extractEntries(ctx context.Context, entries *goquery.Selection) []*models.Asset {
	count := entries.Length()
	if count == 0 {
		return nil
	}

	results := make([]*models.Asset, count)
	if s.cfg.Parallelism <= 1 {
		entries.Each(func(i int, entry *goquery.Selection) {
			results[i] = s.scrapeAsset(ctx, entry)
		})
		return results
	}

	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup
	entries.Each(func(i int, entry *goquery.Selection) {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.scrapeAsset(ctx, entry)
		}()
	})
	wg.Wait()
	return results
}

// finalize assembles the run summary and feeds the pipeline's dedup
// counters into the Prometheus registry.
func (s *Scraper) finalize(start time.Time, p *pipeline.Pipeline) *models.ScrapeResult {
	result := &models.ScrapeResult{
		StartTime:    start,
		EndTime:      time.Now(),
		TotalAssets:  p.Len(),
		ErrorCount:   int(s.fetcher.ErrorCount()),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.fetcher.ErrorsByType(),
		RequestCount: int(s.fetcher.RequestCount()),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}
	for outcome, count := range p.DedupCounts() {
		s.Metrics.AddDedup(outcome, count)
	}
	return result
}

func (s *Scraper) addFailedURL(url string) {
	s.mu.Lock()
	s.failedURLs[url] = struct{}{}
	s.mu.Unlock()
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.failedURLs))
	for url := range s.failedURLs {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}
