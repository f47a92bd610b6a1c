// Package engine resolves per-country metric values for a requested year and
// ranks countries by them. Every function here is a pure function of its
// arguments; Engine only adds an atomically replaceable dataset handle.
package engine

import (
	"fmt"
	"strings"

	"pulse/internal/dataset"
	"pulse/pkg/globeapi"
)

// Fallback selects the observation used when nothing precedes the requested year.
type Fallback int

const (
	// FallbackEarliest picks the earliest dated observation, which is the one
	// closest to a year that predates all data.
	FallbackEarliest Fallback = iota
	// FallbackLatest picks the most recent dated observation.
	FallbackLatest
)

func (f Fallback) String() string {
	switch f {
	case FallbackEarliest:
		return "earliest"
	case FallbackLatest:
		return "latest"
	default:
		return fmt.Sprintf("fallback(%d)", int(f))
	}
}

// ParseFallback accepts "earliest" or "latest", ignoring case.
func ParseFallback(raw string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "earliest":
		return FallbackEarliest, nil
	case "latest":
		return FallbackLatest, nil
	default:
		return 0, fmt.Errorf("unknown resolve fallback %q", raw)
	}
}

// Resolve returns the value of metric for code in year using FallbackEarliest.
// See ResolveWith.
func Resolve(ds *dataset.Dataset, code globeapi.CountryCode, metric globeapi.MetricKey, year int) globeapi.ResolvedValue {
	return ResolveWith(ds, code, metric, year, FallbackEarliest)
}

// ResolveWith returns the value of metric for code in year, in order of preference:
//
//  1. the observation dated exactly year (not estimated);
//  2. the closest dated observation before year (estimated);
//  3. the dated observation chosen by fb, else an undated one (estimated);
//  4. {0, year, false} when there is nothing to resolve.
//
// When several observations share the chosen year the last one in series order wins.
func ResolveWith(ds *dataset.Dataset, code globeapi.CountryCode, metric globeapi.MetricKey, year int, fb Fallback) globeapi.ResolvedValue {
	none := globeapi.ResolvedValue{Value: 0, SourceYear: year, IsEstimated: false}
	canonical, ok := globeapi.ParseCountryCode(string(code))
	if !ok || ds == nil {
		return none
	}
	ts := ds.Series(canonical, metric)
	if len(ts) == 0 {
		return none
	}
	return resolveSeries(ts, year, fb, none)
}

func resolveSeries(ts dataset.TimeSeries, year int, fb Fallback, none globeapi.ResolvedValue) globeapi.ResolvedValue {
	var (
		exact, preceding, earliest, latest, undated globeapi.Observation
		hasExact, hasPreceding, hasDated, hasUndated bool
	)
	for _, obs := range ts {
		if !obs.Dated {
			undated, hasUndated = obs, true
			continue
		}
		if obs.Year == year {
			exact, hasExact = obs, true
		}
		if obs.Year < year && (!hasPreceding || obs.Year >= preceding.Year) {
			preceding, hasPreceding = obs, true
		}
		if !hasDated || obs.Year <= earliest.Year {
			earliest = obs
		}
		if !hasDated || obs.Year >= latest.Year {
			latest = obs
		}
		hasDated = true
	}
	switch {
	case hasExact:
		return globeapi.ResolvedValue{Value: exact.Value, SourceYear: exact.Year}
	case hasPreceding:
		return globeapi.ResolvedValue{Value: preceding.Value, SourceYear: preceding.Year, IsEstimated: true}
	case hasDated:
		pick := earliest
		if fb == FallbackLatest {
			pick = latest
		}
		return globeapi.ResolvedValue{Value: pick.Value, SourceYear: pick.Year, IsEstimated: true}
	case hasUndated:
		return globeapi.ResolvedValue{Value: undated.Value, IsEstimated: true, Undated: true}
	default:
		return none
	}
}
