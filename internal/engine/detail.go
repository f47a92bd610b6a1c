package engine

import (
	"pulse/internal/dataset"
	"pulse/pkg/globeapi"
)

// ModeDetail is one row of a country's detail panel.
type ModeDetail struct {
	Mode     globeapi.Mode          `json:"mode"`
	Resolved globeapi.ResolvedValue `json:"resolved"`
	Display  string                 `json:"display"`
	// Rank is the 1-based position in the unfiltered ranking, 0 when the
	// country is not ranked for the mode.
	Rank  int `json:"rank"`
	Total int `json:"total"`
}

// CountryDetail summarises one country across every catalog mode.
type CountryDetail struct {
	Code  globeapi.CountryCode `json:"code"`
	Name  string               `json:"name"`
	Year  int                  `json:"year"`
	Known bool                 `json:"known"`
	Modes []ModeDetail         `json:"modes"`
}

// Detail resolves code for every catalog mode and places it in each ranking.
func Detail(ds *dataset.Dataset, code globeapi.CountryCode, year int, fb Fallback) CountryDetail {
	canonical, ok := globeapi.ParseCountryCode(string(code))
	if !ok {
		canonical = code
	}
	detail := CountryDetail{Code: canonical, Name: string(canonical), Year: year, Known: ds.Has(canonical)}
	if name, ok := ds.Name(canonical); ok {
		detail.Name = name
	}
	for _, mode := range globeapi.Catalog() {
		resolved := ResolveWith(ds, canonical, mode.MetricKey, year, fb)
		row := ModeDetail{Mode: mode, Resolved: resolved, Display: globeapi.FormatValue(mode, resolved.Value)}
		ranking := Rank(ds, mode.MetricKey, year, RankOptions{Fallback: fb})
		row.Total = len(ranking)
		for _, entry := range ranking {
			if entry.Code == canonical {
				row.Rank = entry.Rank
				break
			}
		}
		detail.Modes = append(detail.Modes, row)
	}
	return detail
}
