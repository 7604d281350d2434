// Package pipeline deduplicates scraped records and writes the final
// ranked export.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/4kxz/godot-asset-list/models"
	"github.com/4kxz/godot-asset-list/parser"
)

// ErrPipelineClosed is returned when Process is called after Close.
var ErrPipelineClosed = errors.New("pipeline: closed")

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(assets []*models.Asset) error
	Close() error
	Validate() error
}

// Pipeline owns the deduplicated result set. Records accumulate in
// memory during the crawl; Close ranks them by normalized star count
// and writes the whole set once.
type Pipeline struct {
	writer OutputWriter

	mu     sync.Mutex
	assets map[string]*models.Asset
	closed bool

	metrics metrics
}

// NewPipeline builds a pipeline writing through writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:  writer,
		assets:  make(map[string]*models.Asset),
		metrics: newMetrics(),
	}
}

// Process merges one record into the result set. When a record with the
// same asset URL already exists, the one with the lexicographically
// greater version tag survives and ties go to the newcomer. The
// comparison is plain string ordering, not semantic versioning, so
// "4.2" outranks "4.10".
func (p *Pipeline) Process(asset *models.Asset) error {
	if asset == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if err := parser.ValidateAsset(asset); err != nil {
		p.metrics.addValidation("invalid_record")
		return nil
	}

	if existing, ok := p.assets[asset.AssetURL]; ok {
		if existing.GodotVersion > asset.GodotVersion {
			p.metrics.incDedup("skipped")
			return nil
		}
		p.metrics.incDedup("replaced")
	}
	p.assets[asset.AssetURL] = asset
	p.metrics.incProcessed()
	return nil
}

// Len reports the number of unique records currently stored.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.assets)
}

// Close ranks the stored records by normalized star count, descending,
// and writes them through the output writer. Ties are broken by asset
// URL so the output is deterministic. Further Process calls fail with
// ErrPipelineClosed; closing twice is a no-op.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	assets := make([]*models.Asset, 0, len(p.assets))
	for _, asset := range p.assets {
		assets = append(assets, asset)
	}
	p.mu.Unlock()

	sort.Slice(assets, func(i, j int) bool {
		si, sj := parser.NormalizeStars(assets[i].Stars), parser.NormalizeStars(assets[j].Stars)
		if si != sj {
			return si > sj
		}
		return assets[i].AssetURL < assets[j].AssetURL
	})

	if err := p.writer.Write(assets); err != nil {
		return fmt.Errorf("write assets: %w", err)
	}
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// DedupCounts reports how many records deduplication skipped or
// replaced.
func (p *Pipeline) DedupCounts() map[string]int {
	return p.metrics.dedupSnapshot()
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	dedup      map[string]int
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		dedup:      make(map[string]int),
		validation: make(map[string]int),
	}
}

func (m *metrics) incProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incDedup(outcome string) {
	m.mu.Lock()
	m.dedup[outcome]++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyDedup := make(map[string]int, len(m.dedup))
	for k, v := range m.dedup {
		copyDedup[k] = v
	}
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_assets":  m.processed,
		"dedup":             copyDedup,
		"validation_errors": copyValidation,
	}
}

func (m *metrics) dedupSnapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.dedup))
	for k, v := range m.dedup {
		out[k] = v
	}
	return out
}
