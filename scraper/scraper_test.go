package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/4kxz/godot-asset-list/config"
	"github.com/4kxz/godot-asset-list/models"
	"github.com/4kxz/godot-asset-list/pipeline"
	"github.com/jarcoal/httpmock"
)

const testBaseURL = "http://catalog.test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.MaxPages = 1
	cfg.Delay = 0
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config) (*Scraper, *httpmock.MockTransport) {
	t.Helper()
	s, err := NewScraper(cfg, testLogger())
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.fetcher.collector.WithTransport(transport)
	return s, transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func listingURL(page int) string {
	return fmt.Sprintf("%s/asset-library/asset?max_results=100&page=%d&sort=updated", testBaseURL, page)
}

func assetItem(href, name, version, footer string) string {
	return fmt.Sprintf(`<div class="asset-item">
		<a class="asset-header" href=%q><div class="asset-title"><h4>%s</h4></div></a>
		<div class="asset-tags"><span class="label-info">%s</span></div>
		<div class="asset-footer"><span>%s</span></div>
	</div>`, href, name, version, footer)
}

func buildListingPage(items ...string) string {
	return "<html><body>" + strings.Join(items, "\n") + "</body></html>"
}

func buildDetailPage(repoURL string) string {
	return fmt.Sprintf(`<html><body><div class="container">
		<a class="btn-default" href=%q>View files</a>
	</div></body></html>`, repoURL)
}

func buildGitHubPage(title, text string) string {
	return fmt.Sprintf(`<html><body><a class="js-social-count" title=%q>%s</a></body></html>`, title, text)
}

func buildGitLabPage(stars string) string {
	return fmt.Sprintf(`<html><body><span class="star-count">%s</span></body></html>`, stars)
}

type collectingWriter struct {
	mu     sync.Mutex
	assets []*models.Asset
}

func (cw *collectingWriter) Write(assets []*models.Asset) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.assets = append(cw.assets, assets...)
	return nil
}

func (cw *collectingWriter) Close() error    { return nil }
func (cw *collectingWriter) Validate() error { return nil }

func (cw *collectingWriter) All() []*models.Asset {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]*models.Asset, len(cw.assets))
	copy(out, cw.assets)
	return out
}

func runScraper(t *testing.T, s *Scraper) (*models.ScrapeResult, []*models.Asset) {
	t.Helper()
	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	return result, writer.All()
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestScraperHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			s, transport := newTestScraper(t, testConfig())
			transport.RegisterResponder("GET", listingURL(0),
				httpmock.NewStringResponder(tt.status, ""))

			result, assets := runScraper(t, s)
			if len(assets) != 0 {
				t.Fatalf("assets=%d, want 0", len(assets))
			}
			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d", tt.expected, tt.status)
			}
		})
	}
}

func TestScraperIntegration(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/1", "Dialogue Manager", "4.2", "Tools | 2024-03-01"),
		assetItem("/asset-library/asset/2", "Terrain3D", "4.1", "3D Tools | 2024-02-11"),
	)))
	transport.RegisterResponder("GET", listingURL(1), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/3", "Godot Jolt", "4.2", "Physics | 1 day ago"),
	)))

	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/1",
		htmlResponder(buildDetailPage("http://github.test/coppola/dialogue-manager/tree/main")))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/2",
		htmlResponder(buildDetailPage("http://gitlab.test/outobugi/terrain3d")))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/3",
		htmlResponder(buildDetailPage("http://forge.test/jolt/godot-jolt")))

	transport.RegisterResponder("GET", "http://github.test/coppola/dialogue-manager",
		htmlResponder(buildGitHubPage("1,234", "1.2k")))
	transport.RegisterResponder("GET", "http://gitlab.test/outobugi/terrain3d",
		htmlResponder(buildGitLabPage(" 340 ")))
	transport.RegisterResponder("GET", "http://forge.test/jolt/godot-jolt",
		htmlResponder("<html><body>mirror</body></html>"))

	result, assets := runScraper(t, s)

	if len(assets) != 3 {
		t.Fatalf("assets=%d, want 3 (requests=%d errors=%d failed=%v)",
			len(assets), result.RequestCount, result.ErrorCount, result.FailedURLs)
	}

	// Export order is descending by normalized star count: 1234, 340, 0.
	wantOrder := []string{"Dialogue Manager", "Terrain3D", "Godot Jolt"}
	for i, want := range wantOrder {
		if assets[i].Name != want {
			t.Fatalf("position %d is %q, want %q", i, assets[i].Name, want)
		}
	}

	sample := assets[0]
	if sample.AssetURL != testBaseURL+"/asset-library/asset/1" {
		t.Fatalf("asset url = %q", sample.AssetURL)
	}
	if sample.RepoURL != "http://github.test/coppola/dialogue-manager" {
		t.Fatalf("repo url = %q, want deep link cleaned", sample.RepoURL)
	}
	if sample.Stars != "1234" {
		t.Fatalf("stars = %q, want %q", sample.Stars, "1234")
	}
	if sample.GodotVersion != "4.2" {
		t.Fatalf("version = %q, want %q", sample.GodotVersion, "4.2")
	}
	if sample.LastUpdated != "2024-03-01" {
		t.Fatalf("last updated = %q, want footer text after the pipe", sample.LastUpdated)
	}

	if assets[1].Stars != "340" {
		t.Fatalf("gitlab stars = %q, want %q", assets[1].Stars, "340")
	}
	if assets[2].Stars != "0" {
		t.Fatalf("unknown host stars = %q, want %q", assets[2].Stars, "0")
	}

	if result.TotalAssets != 3 {
		t.Fatalf("total assets = %d, want 3", result.TotalAssets)
	}
	if result.PageCount != 2 {
		t.Fatalf("page count = %d, want 2", result.PageCount)
	}
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
}

func TestScraperSkipsFailedListingPages(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", listingURL(0),
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	transport.RegisterResponder("GET", listingURL(1), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/7", "Sky Shader", "4.0", "Shaders | 2023-12-25"),
	)))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/7",
		htmlResponder(buildDetailPage("http://forge.test/sky/shader")))
	transport.RegisterResponder("GET", "http://forge.test/sky/shader",
		htmlResponder("<html></html>"))

	result, assets := runScraper(t, s)

	if len(assets) != 1 || assets[0].Name != "Sky Shader" {
		t.Fatalf("assets=%v, want the one from the surviving page", assets)
	}
	if result.PageCount != 2 {
		t.Fatalf("page count = %d, want 2 (failed page still attempted)", result.PageCount)
	}
	// Page failures are skipped outright and never enter the failed URL set.
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
}

func TestScraperDropsAssetWhenDetailFetchFails(t *testing.T) {
	s, transport := newTestScraper(t, testConfig())

	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/9", "Broken Asset", "4.0", "Misc | yesterday"),
	)))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/9",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	result, assets := runScraper(t, s)

	if len(assets) != 0 {
		t.Fatalf("assets=%d, want 0", len(assets))
	}
	// A failed detail fetch drops the record silently; only missing-element
	// errors mark the URL as failed.
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
}

func TestScraperRecordsFailureWhenRepoLinkMissing(t *testing.T) {
	s, transport := newTestScraper(t, testConfig())

	assetURL := testBaseURL + "/asset-library/asset/4"
	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/4", "No Repo", "4.0", "Misc | today"),
	)))
	transport.RegisterResponder("GET", assetURL,
		htmlResponder(`<html><body><div class="container"><p>no downloads</p></div></body></html>`))

	result, assets := runScraper(t, s)

	if len(assets) != 0 {
		t.Fatalf("assets=%d, want 0", len(assets))
	}
	if len(result.FailedURLs) != 1 || result.FailedURLs[0] != assetURL {
		t.Fatalf("failed urls = %v, want [%s]", result.FailedURLs, assetURL)
	}
}

func TestScraperHeaderMissRecordsUnresolvedURL(t *testing.T) {
	s, transport := newTestScraper(t, testConfig())

	item := `<div class="asset-item"><div class="asset-title"><h4>No Link</h4></div></div>`
	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(item)))

	result, assets := runScraper(t, s)

	if len(assets) != 0 {
		t.Fatalf("assets=%d, want 0", len(assets))
	}
	if len(result.FailedURLs) != 1 || result.FailedURLs[0] != "" {
		t.Fatalf("failed urls = %v, want a single unresolved entry", result.FailedURLs)
	}
}

func TestScraperScoresZeroWhenRepoFetchFails(t *testing.T) {
	s, transport := newTestScraper(t, testConfig())

	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/6", "Orphan Repo", "4.1", "Tools | last week"),
	)))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/6",
		htmlResponder(buildDetailPage("http://github.test/gone/repo")))
	transport.RegisterResponder("GET", "http://github.test/gone/repo",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	result, assets := runScraper(t, s)

	if len(assets) != 1 {
		t.Fatalf("assets=%d, want 1 (failed=%v)", len(assets), result.FailedURLs)
	}
	if assets[0].Stars != "0" {
		t.Fatalf("stars = %q, want %q fallback", assets[0].Stars, "0")
	}
	if len(result.FailedURLs) != 0 {
		t.Fatalf("failed urls = %v, want none", result.FailedURLs)
	}
}

func TestScraperKeepsLexicographicallyGreaterVersion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	s, transport := newTestScraper(t, cfg)

	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/5", "Quest System", "4.2", "Tools | March 5"),
	)))
	transport.RegisterResponder("GET", listingURL(1), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/5", "Quest System", "4.10", "Tools | March 9"),
	)))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/5",
		htmlResponder(buildDetailPage("http://github.test/q/quest")))
	transport.RegisterResponder("GET", "http://github.test/q/quest",
		htmlResponder(buildGitHubPage("87", "87")))

	_, assets := runScraper(t, s)

	if len(assets) != 1 {
		t.Fatalf("assets=%d, want 1 after dedup", len(assets))
	}
	// Plain string comparison ranks "4.2" above "4.10".
	if assets[0].GodotVersion != "4.2" {
		t.Fatalf("version = %q, want %q kept", assets[0].GodotVersion, "4.2")
	}
	if assets[0].LastUpdated != "March 5" {
		t.Fatalf("last updated = %q, the first record should survive whole", assets[0].LastUpdated)
	}
}

func registerSharedRepoFixture(transport *httpmock.MockTransport) {
	transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(
		assetItem("/asset-library/asset/11", "Plugin A", "4.0", "Tools | day 1"),
		assetItem("/asset-library/asset/12", "Plugin B", "4.0", "Tools | day 2"),
	)))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/11",
		htmlResponder(buildDetailPage("http://github.test/shared/repo")))
	transport.RegisterResponder("GET", testBaseURL+"/asset-library/asset/12",
		htmlResponder(buildDetailPage("http://github.test/shared/repo/issues/2")))
	transport.RegisterResponder("GET", "http://github.test/shared/repo",
		htmlResponder(buildGitHubPage("55", "55")))
}

func TestScraperStarCache(t *testing.T) {
	t.Run("shared repository fetched once", func(t *testing.T) {
		s, transport := newTestScraper(t, testConfig())
		registerSharedRepoFixture(transport)

		_, assets := runScraper(t, s)

		if len(assets) != 2 {
			t.Fatalf("assets=%d, want 2", len(assets))
		}
		for _, asset := range assets {
			if asset.Stars != "55" {
				t.Fatalf("stars = %q, want %q", asset.Stars, "55")
			}
			if asset.RepoURL != "http://github.test/shared/repo" {
				t.Fatalf("repo url = %q, want cleaned shared repo", asset.RepoURL)
			}
		}

		info := transport.GetCallCountInfo()
		if got := info["GET http://github.test/shared/repo"]; got != 1 {
			t.Fatalf("repo fetched %d times, want 1", got)
		}
	})

	t.Run("disabled cache refetches", func(t *testing.T) {
		cfg := testConfig()
		cfg.StarCacheSize = 0
		s, transport := newTestScraper(t, cfg)
		registerSharedRepoFixture(transport)

		_, assets := runScraper(t, s)

		if len(assets) != 2 {
			t.Fatalf("assets=%d, want 2", len(assets))
		}
		info := transport.GetCallCountInfo()
		if got := info["GET http://github.test/shared/repo"]; got != 2 {
			t.Fatalf("repo fetched %d times, want 2", got)
		}
	})
}

func TestScraperParallelMatchesSequential(t *testing.T) {
	run := func(parallelism int) []*models.Asset {
		cfg := testConfig()
		cfg.Parallelism = parallelism
		s, transport := newTestScraper(t, cfg)

		items := make([]string, 0, 4)
		for i := 1; i <= 3; i++ {
			items = append(items, assetItem(
				fmt.Sprintf("/asset-library/asset/%d", i),
				fmt.Sprintf("Plugin %d", i),
				"4.0",
				fmt.Sprintf("Tools | day %d", i),
			))
		}
		items = append(items, assetItem("/asset-library/asset/2", "Plugin 2", "4.1", "Tools | day 9"))
		transport.RegisterResponder("GET", listingURL(0), htmlResponder(buildListingPage(items...)))

		for i := 1; i <= 3; i++ {
			repoURL := fmt.Sprintf("http://forge.test/plugin/%d", i)
			transport.RegisterResponder("GET", fmt.Sprintf("%s/asset-library/asset/%d", testBaseURL, i),
				htmlResponder(buildDetailPage(repoURL)))
			transport.RegisterResponder("GET", repoURL, htmlResponder("<html></html>"))
		}

		_, assets := runScraper(t, s)
		return assets
	}

	sequential := run(1)
	parallel := run(4)

	if len(sequential) != len(parallel) {
		t.Fatalf("sequential=%d parallel=%d records", len(sequential), len(parallel))
	}
	for i := range sequential {
		if *sequential[i] != *parallel[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, sequential[i], parallel[i])
		}
	}
}

func TestScraperContextCancelled(t *testing.T) {
	s, _ := newTestScraper(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(writer)

	result, err := s.Run(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result == nil {
		t.Fatalf("expected partial result for cancelled run")
	}
	if result.PageCount != 0 {
		t.Fatalf("page count = %d, want 0", result.PageCount)
	}
}
