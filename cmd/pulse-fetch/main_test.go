package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"pulse/internal/blob"
	"pulse/internal/dataset"
	"pulse/pkg/globeapi"
)

func upstreams(t *testing.T) (worldBank, owid string) {
	t.Helper()
	wb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/indicator/NY.GDP.PCAP.CD") {
			fmt.Fprint(w, `[{"page":1,"pages":1},null]`)
			return
		}
		fmt.Fprint(w, `[{"page":1,"pages":1},[
			{"country":{"id":"US","value":"United States"},"countryiso3code":"USA","date":"2022","value":76329.58},
			{"country":{"id":"CN","value":"China"},"countryiso3code":"CHN","date":"2022","value":12720.2}
		]]`)
	}))
	t.Cleanup(wb.Close)
	ow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"United States":{"iso_code":"USA","data":[{"year":2022,"co2_per_capita":14.949}]}}`)
	}))
	t.Cleanup(ow.Close)
	return wb.URL, ow.URL
}

func fetchEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("PULSE_BLOB_DRIVER", "fs")
	t.Setenv("PULSE_BLOB_FS_ROOT", root)
	t.Setenv("PULSE_DATASET_PREFIX", "raw/")
	t.Setenv("PULSE_FETCH_RETAIN", "2")
	return root
}

func TestCLIPublishesAndPrunes(t *testing.T) {
	root := fetchEnv(t)
	wbURL, owidURL := upstreams(t)
	origNow := now
	t.Cleanup(func() { now = origNow })

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	args := []string{"-worldbank-url", wbURL, "-owid-url", owidURL, "-countries", "usa,CHN", "-from", "2020"}
	var keys []string
	for i := range 3 {
		now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		var stdout, stderr bytes.Buffer
		if code := cli(args, &stdout, &stderr); code != 0 {
			t.Fatalf("run %d: exit %d: %s", i, code, stderr.String())
		}
		keys = append(keys, strings.TrimSpace(stdout.String()))
	}
	if keys[0] != "raw/20240501T000000Z.json" {
		t.Fatalf("unexpected key %q", keys[0])
	}

	store, err := blob.NewFilesystem(root)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	infos, err := store.List(context.Background(), "raw/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 retained datasets, got %d", len(infos))
	}
	latest, ok := blob.Latest(infos)
	if !ok || latest.Key != keys[2] {
		t.Fatalf("expected newest upload %q to survive, got %+v", keys[2], latest)
	}

	_, rc, err := store.Get(context.Background(), latest.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	ds, err := dataset.NormalizeReader(rc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := ds.Series("USA", globeapi.MetricGDP); len(got) != 1 || got[0].Value != 76330 {
		t.Fatalf("unexpected USA gdp %+v", got)
	}
	if got := ds.Series("USA", globeapi.MetricCO2); len(got) != 1 || got[0].Value != 14.95 {
		t.Fatalf("unexpected USA co2 %+v", got)
	}
	if name, _ := ds.Name("CHN"); name != "China" {
		t.Fatalf("unexpected CHN name %q", name)
	}
}

func TestCLIDryRunPrintsDocument(t *testing.T) {
	root := fetchEnv(t)
	wbURL, owidURL := upstreams(t)

	var stdout, stderr bytes.Buffer
	code := cli([]string{"-dry-run", "-worldbank-url", wbURL, "-owid-url", owidURL, "-countries", "USA"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"last_updated"`) || !strings.Contains(stdout.String(), `"iso_code": "USA"`) {
		t.Fatalf("expected document on stdout, got %s", stdout.String())
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("dry run should not publish, found %d entries", len(entries))
	}
}

func TestCLIFailsWhenUpstreamsAreDown(t *testing.T) {
	fetchEnv(t)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	var stdout, stderr bytes.Buffer
	code := cli([]string{"-worldbank-url", down.URL, "-owid-url", down.URL}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "fetch_failed") || !strings.Contains(stderr.String(), "source_fetch_failed") {
		t.Fatalf("expected failure logs, got %s", stderr.String())
	}
}

func TestParseFlags(t *testing.T) {
	origNow := now
	t.Cleanup(func() { now = origNow })
	now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	var stderr bytes.Buffer
	opts, _, ok := parseFlags(nil, &stderr)
	if !ok || opts.from != 2000 || opts.to != 2025 || opts.countries != nil || opts.dryRun {
		t.Fatalf("unexpected defaults %+v", opts)
	}

	cases := []struct {
		args []string
		code int
	}{
		{[]string{"-h"}, 0},
		{[]string{"-bogus"}, 2},
		{[]string{"-from", "2010", "-to", "2005"}, 2},
		{[]string{"-from", "0"}, 2},
		{[]string{"-timeout", "0s"}, 2},
		{[]string{"-countries", "USA,united"}, 2},
	}
	for _, tc := range cases {
		if _, code, ok := parseFlags(tc.args, &stderr); ok || code != tc.code {
			t.Fatalf("parseFlags(%v) = %d, %v; want %d, false", tc.args, code, ok, tc.code)
		}
	}
}

func TestCLIConfigError(t *testing.T) {
	t.Setenv("PULSE_FETCH_RETAIN", "-1")
	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "PULSE_FETCH_RETAIN") {
		t.Fatalf("expected config error, got %d %q", code, stderr.String())
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	origExit, origArgs := exitFunc, os.Args
	t.Cleanup(func() { exitFunc, os.Args = origExit, origArgs })
	got := -1
	exitFunc = func(code int) { got = code }
	os.Args = []string{"pulse-fetch", "-from", "-5"}
	main()
	if got != 2 {
		t.Fatalf("expected exit code 2, got %d", got)
	}
}
