package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pulse/pkg/globeapi"
)

// DefaultCountries is the tracked country list of the globe.
var DefaultCountries = []globeapi.CountryCode{"USA", "CHN", "IND", "BRA", "NGA", "EUU", "JPN", "DEU", "GBR", "RUS"}

// precision is the number of decimals kept per metric; unlisted metrics keep 2.
var precision = map[globeapi.MetricKey]int32{
	globeapi.MetricEnergy: 0,
	globeapi.MetricGDP:    0,
}

// IndicatorFetcher is satisfied by *WorldBank.
type IndicatorFetcher interface {
	Indicator(ctx context.Context, codes []globeapi.CountryCode, indicator string, from, to int) (Series, error)
}

// ColumnFetcher is satisfied by *OWID.
type ColumnFetcher interface {
	Column(ctx context.Context, codes []globeapi.CountryCode, column string, from, to int) (Series, error)
}

// Builder fetches every catalog metric for Countries and renders the raw
// document published to the blob store.
type Builder struct {
	WorldBank IndicatorFetcher
	OWID      ColumnFetcher
	Countries []globeapi.CountryCode
	FromYear  int
	ToYear    int
	Logger    *slog.Logger

	now func() time.Time
}

type point struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

type document struct {
	LastUpdated string            `json:"last_updated"`
	Sources     map[string]string `json:"sources"`
	Data        []map[string]any  `json:"data"`
}

// Build fetches all metrics. A metric whose fetch fails is left out and
// logged; Build fails only when every fetch failed.
func (b *Builder) Build(ctx context.Context) ([]byte, error) {
	countries := b.Countries
	if len(countries) == 0 {
		countries = DefaultCountries
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	names := make(map[globeapi.CountryCode]string)
	metrics := make(map[globeapi.MetricKey]Series)
	sources := make(map[string]string)
	var errs []error
	for _, mode := range globeapi.Catalog() {
		series, source, err := b.fetch(ctx, countries, mode)
		if err != nil {
			logger.Warn("source_fetch_failed", slog.String("metric", string(mode.MetricKey)), slog.String("indicator", mode.Indicator), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", mode.MetricKey, err))
			continue
		}
		metrics[mode.MetricKey] = series
		sources[string(mode.MetricKey)] = source
		for code, name := range series.Names {
			if _, ok := names[code]; !ok {
				names[code] = name
			}
		}
		logger.Info("source_fetch_succeeded", slog.String("metric", string(mode.MetricKey)), slog.Int("countries", len(series.Points)))
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("every source fetch failed: %w", errors.Join(errs...))
	}

	doc := document{
		LastUpdated: b.clock().UTC().Format(time.RFC3339),
		Sources:     sources,
		Data:        make([]map[string]any, 0, len(countries)),
	}
	for _, code := range countries {
		record := map[string]any{"iso_code": string(code)}
		if name, ok := names[code]; ok {
			record["country"] = name
		}
		for key, series := range metrics {
			if pts, ok := series.Points[code]; ok {
				record[string(key)] = roundSeries(key, pts)
			}
		}
		doc.Data = append(doc.Data, record)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (b *Builder) fetch(ctx context.Context, countries []globeapi.CountryCode, mode globeapi.Mode) (Series, string, error) {
	if mode.MetricKey == globeapi.MetricCO2 {
		if b.OWID == nil {
			return Series{}, "", errors.New("owid client not configured")
		}
		s, err := b.OWID.Column(ctx, countries, mode.Indicator, b.FromYear, b.ToYear)
		return s, "owid:" + mode.Indicator, err
	}
	if b.WorldBank == nil {
		return Series{}, "", errors.New("world bank client not configured")
	}
	s, err := b.WorldBank.Indicator(ctx, countries, mode.Indicator, b.FromYear, b.ToYear)
	return s, "worldbank:" + mode.Indicator, err
}

// roundSeries sorts by year and rounds half away from zero to the metric's
// precision.
func roundSeries(key globeapi.MetricKey, pts []Point) []point {
	places, ok := precision[key]
	if !ok {
		places = 2
	}
	out := make([]point, len(pts))
	for i, p := range pts {
		out[i] = point{Year: p.Year, Value: decimal.NewFromFloat(p.Value).Round(places).InexactFloat64()}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func (b *Builder) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}
