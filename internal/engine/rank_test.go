package engine

import (
	"testing"

	"pulse/pkg/globeapi"
)

func codes(entries []globeapi.RankEntry) []globeapi.CountryCode {
	out := make([]globeapi.CountryCode, len(entries))
	for i, e := range entries {
		out[i] = e.Code
	}
	return out
}

func equalCodes(a []globeapi.CountryCode, b ...globeapi.CountryCode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRankTieBreaksOnCode(t *testing.T) {
	ds := mustNormalize(t, `{
		"USA": {"gdp": [{"year": 2020, "value": 5}]},
		"IND": {"gdp": [{"year": 2020, "value": 7}]},
		"CHN": {"gdp": [{"year": 2020, "value": 7}]}
	}`)
	got := Rank(ds, globeapi.MetricGDP, 2020, RankOptions{})
	if !equalCodes(codes(got), "CHN", "IND", "USA") {
		t.Fatalf("unexpected order %v", codes(got))
	}
	for i, e := range got {
		if e.Rank != i+1 {
			t.Fatalf("entry %d has rank %d", i, e.Rank)
		}
	}
	if got[0].Value != 7 || got[0].SourceYear != 2020 || got[0].IsEstimated {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
}

func TestRankDropsZerosUnlessRequested(t *testing.T) {
	ds := mustNormalize(t, `{
		"USA": {"water": [{"year": 2020, "value": 99}]},
		"TCD": {"water": [{"year": 2020, "value": 0}]},
		"FRA": {"energy": [{"year": 2020, "value": 3500}]}
	}`)
	if got := Rank(ds, globeapi.MetricWater, 2020, RankOptions{}); !equalCodes(codes(got), "USA") {
		t.Fatalf("zeros should be dropped, got %v", codes(got))
	}
	got := Rank(ds, globeapi.MetricWater, 2020, RankOptions{IncludeZeros: true})
	if !equalCodes(codes(got), "USA", "FRA", "TCD") {
		t.Fatalf("zeros kept: got %v", codes(got))
	}
}

func TestRankSearchAndLimit(t *testing.T) {
	ds := mustNormalize(t, `[
		{"iso_code": "USA", "country": "United States", "life": [{"year": 2021, "value": 76.4}]},
		{"iso_code": "GBR", "country": "United Kingdom", "life": [{"year": 2021, "value": 80.7}]},
		{"iso_code": "ARE", "country": "United Arab Emirates", "life": [{"year": 2021, "value": 78.7}]},
		{"iso_code": "FRA", "country": "France", "life": [{"year": 2021, "value": 82.3}]}
	]`)
	got := Rank(ds, globeapi.MetricLife, 2021, RankOptions{Search: "  UNITED "})
	if !equalCodes(codes(got), "GBR", "ARE", "USA") {
		t.Fatalf("search by name: got %v", codes(got))
	}
	if got[0].Name != "United Kingdom" || got[0].Rank != 1 {
		t.Fatalf("unexpected entry %+v", got[0])
	}
	if got := Rank(ds, globeapi.MetricLife, 2021, RankOptions{Search: "fr"}); !equalCodes(codes(got), "FRA") {
		t.Fatalf("search by code: got %v", codes(got))
	}
	got = Rank(ds, globeapi.MetricLife, 2021, RankOptions{Limit: 2})
	if !equalCodes(codes(got), "FRA", "GBR") {
		t.Fatalf("limit: got %v", codes(got))
	}
	names := map[globeapi.CountryCode]string{"FRA": "République française"}
	got = Rank(ds, globeapi.MetricLife, 2021, RankOptions{Search: "république", Names: names})
	if len(got) != 1 || got[0].Name != "République française" {
		t.Fatalf("names override: got %+v", got)
	}
}

func TestRankEmpty(t *testing.T) {
	if got := Rank(nil, globeapi.MetricGDP, 2020, RankOptions{}); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	ds := mustNormalize(t, `{"USA": {"gdp": [{"year": 2020, "value": 1}]}}`)
	if got := Rank(ds, globeapi.MetricGDP, 2020, RankOptions{Search: "zzz"}); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	ds := mustNormalize(t, `{
		"AAA": {"gdp": [{"year": 2020, "value": 1}]},
		"BBB": {"gdp": [{"year": 2020, "value": 1}]},
		"CCC": {"gdp": [{"year": 2018, "value": 1}]},
		"DDD": {"gdp": [{"year": 2020, "value": 2}]}
	}`)
	first := Rank(ds, globeapi.MetricGDP, 2020, RankOptions{})
	for i := 0; i < 10; i++ {
		next := Rank(ds, globeapi.MetricGDP, 2020, RankOptions{})
		if len(next) != len(first) {
			t.Fatalf("length changed")
		}
		for j := range next {
			if next[j] != first[j] {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, next[j], first[j])
			}
		}
	}
	if !equalCodes(codes(first), "DDD", "AAA", "BBB", "CCC") || !first[3].IsEstimated {
		t.Fatalf("unexpected ranking %+v", first)
	}
	first[0].Value = 99
	if again := Rank(ds, globeapi.MetricGDP, 2020, RankOptions{}); again[0].Value != 2 {
		t.Fatalf("result slice shared between calls")
	}
}
