package engine

import (
	"sort"
	"strings"

	"pulse/internal/dataset"
	"pulse/pkg/globeapi"
)

// RankOptions tunes Rank. The zero value ranks every country with data.
type RankOptions struct {
	// Search keeps only countries whose display name or code contains it,
	// ignoring case.
	Search string
	// Names overrides the dataset's display names for searching and output.
	Names map[globeapi.CountryCode]string
	// Limit caps the sorted result when positive.
	Limit int
	// IncludeZeros keeps countries that resolve to exactly 0.
	IncludeZeros bool
	// Fallback is the last-resort policy handed to ResolveWith.
	Fallback Fallback
}

// Rank orders every country of ds by its resolved value for metric in year:
// descending by value, ascending by code on ties.
func Rank(ds *dataset.Dataset, metric globeapi.MetricKey, year int, opts RankOptions) []globeapi.RankEntry {
	entries := make([]globeapi.RankEntry, 0, ds.Len())
	if ds == nil {
		return entries
	}
	names := opts.Names
	if names == nil {
		names = ds.Names()
	}
	needle := strings.ToLower(strings.TrimSpace(opts.Search))
	for _, code := range ds.Codes() {
		name := names[code]
		if name == "" {
			name = string(code)
		}
		if needle != "" && !matches(needle, code, name) {
			continue
		}
		resolved := ResolveWith(ds, code, metric, year, opts.Fallback)
		if resolved.Value == 0 && !opts.IncludeZeros {
			continue
		}
		entries = append(entries, globeapi.RankEntry{
			Code:        code,
			Name:        name,
			Value:       resolved.Value,
			SourceYear:  resolved.SourceYear,
			IsEstimated: resolved.IsEstimated,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Code < entries[j].Code
	})
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func matches(needle string, code globeapi.CountryCode, name string) bool {
	return strings.Contains(strings.ToLower(name), needle) || strings.Contains(strings.ToLower(string(code)), needle)
}
