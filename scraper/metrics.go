package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	PagesTotal         prometheus.Counter
	AssetsScrapedTotal prometheus.Counter
	AssetFailuresTotal prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
	DedupTotal         *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total catalog pages attempted.",
		},
	)
	assetsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_assets_scraped_total",
			Help: "Total number of assets sent to the pipeline.",
		},
	)
	assetFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_asset_failures_total",
			Help: "Total number of assets whose extraction failed.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)
	dedupTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_dedup_total",
			Help: "Deduplication outcomes for records sharing an asset URL.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, pages, assetsScraped, assetFailures, errorsTotal, dedupTotal)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		PagesTotal:         pages,
		AssetsScrapedTotal: assetsScraped,
		AssetFailuresTotal: assetFailures,
		ErrorsTotal:        errorsTotal,
		DedupTotal:         dedupTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncAssets increments the assets scraped counter.
func (m *Metrics) IncAssets() {
	if m == nil {
		return
	}
	m.AssetsScrapedTotal.Inc()
}

// IncAssetFailure increments the asset failures counter.
func (m *Metrics) IncAssetFailure() {
	if m == nil {
		return
	}
	m.AssetFailuresTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddDedup adds n to the dedup counter for an outcome label.
func (m *Metrics) AddDedup(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DedupTotal.WithLabelValues(outcome).Add(float64(n))
}
