// Package dataset builds the canonical in-memory model of per-country yearly
// metrics from the raw JSON shapes published by upstream feeds.
package dataset

import (
	"bytes"
	"encoding/json"
	"sort"

	"pulse/pkg/globeapi"
)

// TimeSeries holds the observations of one (country, metric) pair in the
// order they were ingested. It is not sorted by year.
type TimeSeries []globeapi.Observation

// Stats counts what normalization kept and skipped.
type Stats = globeapi.IngestStats

// Dataset is the canonical mapping CountryCode -> MetricKey -> TimeSeries.
// A Dataset is never mutated after Normalize returns it; accessors hand out copies.
type Dataset struct {
	countries map[globeapi.CountryCode]map[globeapi.MetricKey]TimeSeries
	names     map[globeapi.CountryCode]string
	meta      []member
	stats     Stats
}

func newDataset() *Dataset {
	return &Dataset{
		countries: make(map[globeapi.CountryCode]map[globeapi.MetricKey]TimeSeries),
		names:     make(map[globeapi.CountryCode]string),
	}
}

// Len returns the number of countries.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.countries)
}

// Has reports whether code has an entry, with or without metric data.
func (d *Dataset) Has(code globeapi.CountryCode) bool {
	if d == nil {
		return false
	}
	_, ok := d.countries[code]
	return ok
}

// Codes returns every country code in ascending order.
func (d *Dataset) Codes() []globeapi.CountryCode {
	if d == nil {
		return nil
	}
	codes := make([]globeapi.CountryCode, 0, len(d.countries))
	for code := range d.countries {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Series returns a copy of the observations for (code, metric), or nil.
func (d *Dataset) Series(code globeapi.CountryCode, metric globeapi.MetricKey) TimeSeries {
	if d == nil {
		return nil
	}
	ts, ok := d.countries[code][metric]
	if !ok {
		return nil
	}
	return append(TimeSeries{}, ts...)
}

// Metrics lists the metrics present for code in catalog order.
func (d *Dataset) Metrics(code globeapi.CountryCode) []globeapi.MetricKey {
	if d == nil {
		return nil
	}
	metrics := d.countries[code]
	var out []globeapi.MetricKey
	for _, key := range globeapi.MetricKeys() {
		if _, ok := metrics[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// Name returns the display name ingested for code.
func (d *Dataset) Name(code globeapi.CountryCode) (string, bool) {
	if d == nil {
		return "", false
	}
	name, ok := d.names[code]
	return name, ok
}

// Names returns a copy of the display-name lookup.
func (d *Dataset) Names() map[globeapi.CountryCode]string {
	out := make(map[globeapi.CountryCode]string)
	if d == nil {
		return out
	}
	for code, name := range d.names {
		out[code] = name
	}
	return out
}

// Meta returns the envelope members that sat beside "data", verbatim.
func (d *Dataset) Meta() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	if d == nil {
		return out
	}
	for _, m := range d.meta {
		out[m.key] = append(json.RawMessage(nil), m.raw...)
	}
	return out
}

// Stats reports ingestion counters from the Normalize call that built d.
func (d *Dataset) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return d.stats
}

// YearRange returns the smallest and largest dated year across all series.
func (d *Dataset) YearRange() (minYear, maxYear int, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	for _, metrics := range d.countries {
		for _, ts := range metrics {
			for _, obs := range ts {
				if !obs.Dated {
					continue
				}
				if !ok || obs.Year < minYear {
					minYear = obs.Year
				}
				if !ok || obs.Year > maxYear {
					maxYear = obs.Year
				}
				ok = true
			}
		}
	}
	return minYear, maxYear, ok
}

// Equal compares content: codes, names, series (including order) and meta.
// Ingestion stats are not part of the content.
func (d *Dataset) Equal(other *Dataset) bool {
	if d == nil || other == nil {
		return d.Len() == 0 && other.Len() == 0 && len(d.Meta()) == 0 && len(other.Meta()) == 0
	}
	if len(d.countries) != len(other.countries) || len(d.names) != len(other.names) {
		return false
	}
	for code, name := range d.names {
		if other.names[code] != name {
			return false
		}
	}
	for code, metrics := range d.countries {
		otherMetrics, ok := other.countries[code]
		if !ok || len(metrics) != len(otherMetrics) {
			return false
		}
		for key, ts := range metrics {
			otherTS, ok := otherMetrics[key]
			if !ok || len(ts) != len(otherTS) {
				return false
			}
			for i := range ts {
				if ts[i] != otherTS[i] {
					return false
				}
			}
		}
	}
	mine, theirs := d.Meta(), other.Meta()
	if len(mine) != len(theirs) {
		return false
	}
	for key, raw := range mine {
		otherRaw, ok := theirs[key]
		if !ok || !jsonEqual(raw, otherRaw) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
