package globeapi

import "strings"

type CountryCode string

type MetricKey string

const (
	MetricEnergy     MetricKey = "energy"
	MetricGDP        MetricKey = "gdp"
	MetricCO2        MetricKey = "co2"
	MetricRenewables MetricKey = "renewables"
	MetricWater      MetricKey = "water"
	MetricInternet   MetricKey = "internet"
	MetricLife       MetricKey = "life"
	MetricInflation  MetricKey = "inflation"
)

var metricKeys = []MetricKey{
	MetricEnergy,
	MetricGDP,
	MetricCO2,
	MetricRenewables,
	MetricWater,
	MetricInternet,
	MetricLife,
	MetricInflation,
}

type Observation struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
	Dated bool    `json:"dated"`
}

type ResolvedValue struct {
	Value       float64 `json:"value"`
	SourceYear  int     `json:"source_year"`
	IsEstimated bool    `json:"is_estimated"`
	Undated     bool    `json:"undated,omitempty"`
}

type RankEntry struct {
	Rank        int         `json:"rank"`
	Code        CountryCode `json:"code"`
	Name        string      `json:"name"`
	Value       float64     `json:"value"`
	SourceYear  int         `json:"source_year"`
	IsEstimated bool        `json:"is_estimated"`
}

// MetricKeys returns the recognised metric keys in catalog order.
func MetricKeys() []MetricKey {
	return append([]MetricKey(nil), metricKeys...)
}

// ParseMetricKey matches raw case-insensitively against the recognised keys.
func ParseMetricKey(raw string) (MetricKey, bool) {
	candidate := MetricKey(strings.ToLower(strings.TrimSpace(raw)))
	for _, key := range metricKeys {
		if key == candidate {
			return key, true
		}
	}
	return "", false
}

// ParseCountryCode canonicalises raw to upper case and reports whether it is a
// usable 2-3 character alphanumeric code.
func ParseCountryCode(raw string) (CountryCode, bool) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 2 || len(trimmed) > 3 {
		return "", false
	}
	upper := strings.ToUpper(trimmed)
	for i := 0; i < len(upper); i++ {
		c := upper[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return CountryCode(upper), true
}
