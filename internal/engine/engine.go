package engine

import (
	"sync/atomic"

	"pulse/internal/dataset"
	"pulse/pkg/globeapi"
)

// Engine answers queries against the current dataset. The dataset is swapped
// atomically by Replace; readers never block and a dataset already obtained by
// a caller stays valid after a swap.
type Engine struct {
	current  atomic.Pointer[dataset.Dataset]
	fallback Fallback
}

// Option configures an Engine.
type Option func(*Engine)

// WithFallback sets the last-resort policy used by every query.
func WithFallback(fb Fallback) Option {
	return func(e *Engine) { e.fallback = fb }
}

// New returns an Engine serving ds, which may be nil.
func New(ds *dataset.Dataset, opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if ds != nil {
		e.current.Store(ds)
	}
	return e
}

// Replace installs ds and returns the dataset it replaced.
func (e *Engine) Replace(ds *dataset.Dataset) *dataset.Dataset {
	return e.current.Swap(ds)
}

// Dataset returns the dataset currently served, nil before the first load.
func (e *Engine) Dataset() *dataset.Dataset {
	return e.current.Load()
}

func (e *Engine) Fallback() Fallback {
	return e.fallback
}

// Resolve resolves code for the named mode. Unknown modes yield the no-data value.
func (e *Engine) Resolve(code globeapi.CountryCode, mode string, year int) globeapi.ResolvedValue {
	m, ok := globeapi.LookupMode(mode)
	if !ok {
		return globeapi.ResolvedValue{SourceYear: year}
	}
	return ResolveWith(e.Dataset(), code, m.MetricKey, year, e.fallback)
}

// Rank ranks every country for the named mode. Unknown modes yield an empty
// ranking. opts.Fallback is overridden by the engine's policy.
func (e *Engine) Rank(mode string, year int, opts RankOptions) []globeapi.RankEntry {
	m, ok := globeapi.LookupMode(mode)
	if !ok {
		return []globeapi.RankEntry{}
	}
	opts.Fallback = e.fallback
	return Rank(e.Dataset(), m.MetricKey, year, opts)
}

func (e *Engine) Detail(code globeapi.CountryCode, year int) CountryDetail {
	return Detail(e.Dataset(), code, year, e.fallback)
}

func (e *Engine) MetricCatalog() []globeapi.Mode {
	return globeapi.Catalog()
}

// LatestYear reports the most recent dated year in the current dataset.
func (e *Engine) LatestYear() (int, bool) {
	_, maxYear, ok := e.Dataset().YearRange()
	return maxYear, ok
}
