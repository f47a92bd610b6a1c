package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"pulse/pkg/globeapi"
)

// envelopeKey names the member that wraps the records in enveloped documents.
const envelopeKey = "data"

// idFields are consulted in order when a record is an array element; the
// first non-empty string wins.
var idFields = []string{"iso_code", "iso3", "countryiso3code", "code", "id"}

// NormalizeReader reads the whole document from r and normalizes it.
func NormalizeReader(r io.Reader) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Normalize(raw)
}

// Normalize converts a raw document into a canonical Dataset. Accepted shapes:
// an object keyed by country code, an array of records carrying a code field,
// or either of those under a "data" member with sibling metadata.
//
// Only a top level that is not an object or array fails, with a
// *MalformedDatasetError. Bad records and observations are skipped.
func Normalize(raw []byte) (*Dataset, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, malformed("empty document", nil)
	}
	if !json.Valid(trimmed) {
		return nil, malformed("invalid json", nil)
	}
	ds := newDataset()
	switch trimmed[0] {
	case '{':
		members, err := readObject(trimmed)
		if err != nil {
			return nil, malformed("read top-level object", err)
		}
		if data, ok := lookup(members, envelopeKey); ok && (kindOf(data) == '{' || kindOf(data) == '[') {
			for _, m := range members {
				if m.key != envelopeKey {
					ds.meta = append(ds.meta, m)
				}
			}
			ds.meta = dedupeMembers(ds.meta)
			if err := ds.ingest(data); err != nil {
				return nil, err
			}
			return ds, nil
		}
		ds.ingestObject(members)
	case '[':
		if err := ds.ingest(trimmed); err != nil {
			return nil, err
		}
	default:
		return nil, malformed(fmt.Sprintf("top-level %s is neither object nor array", describe(trimmed[0])), nil)
	}
	return ds, nil
}

func (d *Dataset) ingest(raw []byte) error {
	switch kindOf(raw) {
	case '{':
		members, err := readObject(raw)
		if err != nil {
			return malformed("read data object", err)
		}
		d.ingestObject(members)
	case '[':
		elems, err := readArray(raw)
		if err != nil {
			return malformed("read data array", err)
		}
		d.ingestArray(elems)
	}
	return nil
}

func (d *Dataset) ingestObject(members []member) {
	for _, m := range members {
		code, ok := globeapi.ParseCountryCode(m.key)
		if !ok || kindOf(m.raw) != '{' {
			d.stats.SkippedRecords++
			continue
		}
		fields, err := readObject(m.raw)
		if err != nil {
			d.stats.SkippedRecords++
			continue
		}
		d.ingestRecord(code, fields)
	}
}

func (d *Dataset) ingestArray(elems []json.RawMessage) {
	for _, elem := range elems {
		if kindOf(elem) != '{' {
			d.stats.SkippedRecords++
			continue
		}
		fields, err := readObject(elem)
		if err != nil {
			d.stats.SkippedRecords++
			continue
		}
		code, ok := recordCode(fields)
		if !ok {
			d.stats.SkippedRecords++
			continue
		}
		d.ingestRecord(code, fields)
	}
}

func recordCode(fields []member) (globeapi.CountryCode, bool) {
	for _, name := range idFields {
		raw, ok := lookup(fields, name)
		if !ok {
			continue
		}
		if id, ok := parseString(raw); ok {
			return globeapi.ParseCountryCode(id)
		}
	}
	return "", false
}

// ingestRecord applies one record. A recognised metric replaces whatever an
// earlier record with the same code stored for that metric; other metrics of
// the earlier record are kept.
func (d *Dataset) ingestRecord(code globeapi.CountryCode, fields []member) {
	d.stats.Records++
	metrics, ok := d.countries[code]
	if !ok {
		metrics = make(map[globeapi.MetricKey]TimeSeries)
		d.countries[code] = metrics
	}
	if name := recordName(fields); name != "" {
		d.names[code] = name
	}
	for _, f := range fields {
		key, ok := globeapi.ParseMetricKey(f.key)
		if !ok {
			continue
		}
		ts, ok := d.parseSeries(f.raw)
		if !ok {
			continue
		}
		metrics[key] = ts
		d.stats.Observations += len(ts)
	}
}

func recordName(fields []member) string {
	for _, key := range []string{"country", "name"} {
		raw, ok := lookup(fields, key)
		if !ok {
			continue
		}
		if name, ok := parseString(raw); ok {
			return name
		}
		// World Bank style {"id": "US", "value": "United States"}.
		if kindOf(raw) == '{' {
			if inner, err := readObject(raw); err == nil {
				if v, ok := lookup(inner, "value"); ok {
					if name, ok := parseString(v); ok {
						return name
					}
				}
			}
		}
	}
	return ""
}

// parseSeries reports false when raw has no usable shape, in which case any
// previously stored series for the metric must be left alone.
func (d *Dataset) parseSeries(raw json.RawMessage) (TimeSeries, bool) {
	switch kind := kindOf(raw); {
	case kind == '[':
		elems, err := readArray(raw)
		if err != nil {
			return nil, false
		}
		ts := make(TimeSeries, 0, len(elems))
		for _, elem := range elems {
			obs, ok := parsePoint(elem)
			if !ok {
				d.stats.DroppedObservations++
				continue
			}
			ts = append(ts, obs)
		}
		return ts, true
	case kind == '{':
		fields, err := readObject(raw)
		if err != nil {
			return nil, false
		}
		valueRaw, ok := lookup(fields, "value")
		if !ok {
			return nil, false
		}
		value, ok := parseValue(valueRaw)
		if !ok {
			return nil, false
		}
		obs := globeapi.Observation{Value: value}
		if year, ok := fieldYear(fields, "year", "date"); ok {
			obs.Year, obs.Dated = year, true
		}
		return TimeSeries{obs}, true
	case kind == '-' || (kind >= '0' && kind <= '9'):
		value, ok := parseValue(raw)
		if !ok {
			return nil, false
		}
		return TimeSeries{{Value: value}}, true
	default:
		return nil, false
	}
}

func parsePoint(raw json.RawMessage) (globeapi.Observation, bool) {
	if kindOf(raw) != '{' {
		return globeapi.Observation{}, false
	}
	fields, err := readObject(raw)
	if err != nil {
		return globeapi.Observation{}, false
	}
	year, ok := fieldYear(fields, "date", "year")
	if !ok {
		return globeapi.Observation{}, false
	}
	valueRaw, ok := lookup(fields, "value")
	if !ok {
		return globeapi.Observation{}, false
	}
	value, ok := parseValue(valueRaw)
	if !ok {
		return globeapi.Observation{}, false
	}
	return globeapi.Observation{Year: year, Value: value, Dated: true}, true
}

// fieldYear returns the year from the first of keys that is present and not null.
func fieldYear(fields []member, keys ...string) (int, bool) {
	for _, key := range keys {
		raw, ok := lookup(fields, key)
		if !ok || isNull(raw) {
			continue
		}
		return parseYear(raw)
	}
	return 0, false
}

// dedupeMembers keeps the last occurrence of each key at its last position.
func dedupeMembers(members []member) []member {
	last := make(map[string]int, len(members))
	for i, m := range members {
		last[m.key] = i
	}
	out := make([]member, 0, len(last))
	for i, m := range members {
		if last[m.key] == i {
			out = append(out, m)
		}
	}
	return out
}

func describe(kind byte) string {
	switch {
	case kind == '"':
		return "string"
	case kind == 't' || kind == 'f':
		return "boolean"
	case kind == 'n':
		return "null"
	default:
		return "number"
	}
}
