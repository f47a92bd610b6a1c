package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulse/pkg/globeapi"
)

const owidFixture = `{
	"United States": {"iso_code": "USA", "data": [
		{"year": 1999, "co2_per_capita": 20.1},
		{"year": 2020, "co2_per_capita": 13.03, "gdp": 1},
		{"year": 2021, "co2_per_capita": null},
		{"year": 2022, "co2_per_capita": 14.9}
	]},
	"CHN": {"iso_code": "CHN", "data": [
		{"year": 2021, "co2_per_capita": 8.0}
	]},
	"European Union (27)": {"data": [
		{"year": 2021, "co2_per_capita": 6.25}
	]},
	"Broken": {"iso_code": "BRK", "data": [
		{"year": "soon", "co2_per_capita": 1},
		{"year": 2021, "co2_per_capita": "n/a"}
	]}
}`

func owidServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, owidFixture)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOWIDColumnMatchesEntries(t *testing.T) {
	srv := owidServer(t)
	codes := []globeapi.CountryCode{"USA", "CHN", "EUU", "BRK", "JPN"}
	series, err := NewOWID(srv.URL, srv.Client()).Column(context.Background(), codes, "co2_per_capita", 2000, 2022)
	if err != nil {
		t.Fatalf("column: %v", err)
	}

	usa := series.Points["USA"]
	if len(usa) != 2 || usa[0] != (Point{Year: 2020, Value: 13.03}) || usa[1].Year != 2022 {
		t.Fatalf("expected 2020 and 2022 for USA (null and out-of-range skipped), got %+v", usa)
	}
	if series.Names["USA"] != "United States" {
		t.Fatalf("expected name from entry key, got %q", series.Names["USA"])
	}
	if got := series.Points["CHN"]; len(got) != 1 || got[0].Value != 8 {
		t.Fatalf("unexpected CHN points %+v", got)
	}
	if _, ok := series.Names["CHN"]; ok {
		t.Fatalf("code-shaped key should not become a display name")
	}
	if got := series.Points["EUU"]; len(got) != 1 || got[0].Value != 6.25 {
		t.Fatalf("expected EUU via alias, got %+v", got)
	}
	if series.Names["EUU"] != "European Union (27)" {
		t.Fatalf("unexpected EUU name %q", series.Names["EUU"])
	}
	if _, ok := series.Points["BRK"]; ok {
		t.Fatalf("malformed rows should be skipped, got %+v", series.Points["BRK"])
	}
	if _, ok := series.Points["JPN"]; ok {
		t.Fatalf("missing entry should produce no points")
	}
}

func TestOWIDColumnWithoutRangeKeepsAllYears(t *testing.T) {
	srv := owidServer(t)
	series, err := NewOWID(srv.URL, srv.Client()).Column(context.Background(), []globeapi.CountryCode{"USA"}, "co2_per_capita", 0, 0)
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	if got := len(series.Points["USA"]); got != 3 {
		t.Fatalf("expected 3 non-null USA points, got %d", got)
	}
}

func TestOWIDColumnDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[1,2,3]`)
	}))
	defer srv.Close()

	if _, err := NewOWID(srv.URL, srv.Client()).Column(context.Background(), []globeapi.CountryCode{"USA"}, "co2_per_capita", 0, 0); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewOWIDDefaults(t *testing.T) {
	c := NewOWID("", nil)
	if c.URL != DefaultOWIDURL || c.HTTP != http.DefaultClient {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
