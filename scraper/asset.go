package scraper

import (
	"context"
	"log/slog"
	"strings"

	"github.com/4kxz/godot-asset-list/models"
	"github.com/PuerkitoBio/goquery"
)

const (
	assetHeaderSelector = ".asset-header"
	repoLinkSelector    = ".container a.btn-default"
	assetNameSelector   = ".asset-title h4"
	assetTagSelector    = ".asset-tags .label-info"
	assetFooterSelector = ".asset-footer span"
)

// scrapeAsset extracts one listing entry into an asset record. A nil
// return means the entry produced no record: either its detail page
// could not be fetched (dropped without a failure entry) or a required
// element was missing (logged and added to the failure set).
func (s *Scraper) scrapeAsset(ctx context.Context, entry *goquery.Selection) *models.Asset {
	asset, assetURL, err := s.extractAsset(ctx, entry)
	if err != nil {
		s.logger.Error("failed to scrape asset",
			slog.Any("error", err),
			slog.String("url", assetURL),
		)
		s.addFailedURL(assetURL)
		s.Metrics.IncAssetFailure()
		return nil
	}
	return asset
}

// extractAsset walks the fixed extraction sequence: header link, detail
// page, repository link, repository stars, then the entry's own name,
// version tag and last-updated text. The returned URL is whatever had
// been resolved by the time extraction stopped, possibly still empty
// when the header itself was missing.
func (s *Scraper) extractAsset(ctx context.Context, entry *goquery.Selection) (*models.Asset, string, error) {
	header := entry.Find(assetHeaderSelector)
	if header.Length() == 0 {
		return nil, "", ErrMissingElement{Selector: assetHeaderSelector}
	}
	href, ok := header.First().Attr("href")
	if !ok {
		return nil, "", ErrMissingAttribute{Selector: assetHeaderSelector, Attr: "href"}
	}
	assetURL := s.cfg.BaseURL + href

	detail := s.fetcher.Fetch(ctx, assetURL)
	if detail == nil {
		return nil, assetURL, nil
	}

	repoLink := detail.Find(repoLinkSelector)
	if repoLink.Length() == 0 {
		return nil, assetURL, ErrMissingElement{Selector: repoLinkSelector}
	}
	rawRepoURL, ok := repoLink.First().Attr("href")
	if !ok {
		return nil, assetURL, ErrMissingAttribute{Selector: repoLinkSelector, Attr: "href"}
	}
	repoURL := cleanRepoURL(rawRepoURL)

	stars, err := s.lookupStars(ctx, repoURL)
	if err != nil {
		return nil, assetURL, err
	}

	name, err := entryText(entry, assetNameSelector)
	if err != nil {
		return nil, assetURL, err
	}
	version, err := entryText(entry, assetTagSelector)
	if err != nil {
		return nil, assetURL, err
	}
	footer, err := entryText(entry, assetFooterSelector)
	if err != nil {
		return nil, assetURL, err
	}
	segments := strings.Split(footer, "|")
	lastUpdated := strings.TrimSpace(segments[len(segments)-1])

	return &models.Asset{
		Name:         strings.TrimSpace(name),
		AssetURL:     assetURL,
		RepoURL:      repoURL,
		Stars:        stars,
		GodotVersion: strings.TrimSpace(version),
		LastUpdated:  lastUpdated,
	}, assetURL, nil
}

// lookupStars resolves the star count for a repository, consulting the
// in-run cache first. A failed repository fetch scores "0" and is not
// cached, so a later asset sharing the repository gets another attempt.
func (s *Scraper) lookupStars(ctx context.Context, repoURL string) (string, error) {
	if s.starCache != nil {
		if stars, ok := s.starCache.Get(repoURL); ok {
			return stars, nil
		}
	}

	repoDoc := s.fetcher.Fetch(ctx, repoURL)
	if repoDoc == nil {
		return "0", nil
	}
	stars, err := extractStars(repoDoc, repoURL)
	if err != nil {
		return "", err
	}

	if s.starCache != nil {
		s.starCache.Add(repoURL, stars)
	}
	return stars, nil
}

func entryText(entry *goquery.Selection, selector string) (string, error) {
	sel := entry.Find(selector)
	if sel.Length() == 0 {
		return "", ErrMissingElement{Selector: selector}
	}
	return sel.First().Text(), nil
}
