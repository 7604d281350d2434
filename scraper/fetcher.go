package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/4kxz/godot-asset-list/config"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const responseDocKey = "document"

// Fetcher issues single GET requests through a shared colly collector
// and hands back parsed documents. Transport failures, non-2xx statuses
// and unparsable bodies all surface as a nil document, never as an
// error; each successful fetch is followed by the configured politeness
// delay.
type Fetcher struct {
	collector *colly.Collector
	delay     time.Duration
	logger    *slog.Logger
	metrics   *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewFetcher builds a fetcher configured from cfg. Detail and repository
// pages are fetched repeatedly across catalog pages, so the collector
// allows URL revisits.
func NewFetcher(cfg *config.Config, logger *slog.Logger, metrics *Metrics) (*Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		collector:    collector,
		delay:        cfg.Delay,
		logger:       logger,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		current := atomic.AddInt64(&f.requestCount, 1)
		f.metrics.IncRequest("started")
		if current%50 == 0 {
			f.logger.Debug("request progress",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			return
		}
		r.Ctx.Put(responseDocKey, doc)
	})

	collector.OnError(func(r *colly.Response, err error) {
		atomic.AddInt64(&f.errorCount, 1)
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		category := errorTypeLabel(classifyError(err, statusCode))
		f.mu.Lock()
		f.errorsByType[category]++
		f.mu.Unlock()
		f.metrics.IncError(category)
	})

	return f, nil
}

// Fetch retrieves url and returns its parsed document, or nil when the
// request fails. Failures are logged here once; callers only need to
// check for nil.
func (f *Fetcher) Fetch(ctx context.Context, url string) *goquery.Document {
	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, url, nil, reqCtx, nil); err != nil {
		f.logger.Error("failed to fetch", slog.String("url", url), slog.Any("error", err))
		return nil
	}

	doc, ok := reqCtx.GetAny(responseDocKey).(*goquery.Document)
	if !ok {
		f.logger.Error("failed to fetch", slog.String("url", url), slog.String("reason", "unparsable response"))
		return nil
	}

	f.sleep(ctx)
	return doc
}

// sleep applies the fixed post-success delay. A cancelled context cuts
// the wait short.
func (f *Fetcher) sleep(ctx context.Context) {
	if f.delay <= 0 {
		return
	}
	timer := time.NewTimer(f.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// RequestCount reports the number of requests issued so far.
func (f *Fetcher) RequestCount() int64 {
	return atomic.LoadInt64(&f.requestCount)
}

// ErrorCount reports the number of failed requests so far.
func (f *Fetcher) ErrorCount() int64 {
	return atomic.LoadInt64(&f.errorCount)
}

// ErrorsByType returns a snapshot of failure counts keyed by category.
func (f *Fetcher) ErrorsByType() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		out[k] = v
	}
	return out
}
