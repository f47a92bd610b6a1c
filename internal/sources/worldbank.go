// Package sources fetches yearly indicators from upstream open-data APIs and
// assembles them into a raw dataset document the normalizer accepts.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pulse/pkg/globeapi"
)

// DefaultWorldBankURL is the public World Bank API v2 root.
const DefaultWorldBankURL = "https://api.worldbank.org/v2"

// Point is one upstream yearly value.
type Point struct {
	Year  int
	Value float64
}

// Series holds one indicator per country plus the display names reported by
// the upstream.
type Series struct {
	Points map[globeapi.CountryCode][]Point
	Names  map[globeapi.CountryCode]string
}

func newSeries() Series {
	return Series{Points: make(map[globeapi.CountryCode][]Point), Names: make(map[globeapi.CountryCode]string)}
}

// WorldBank reads indicator series from the World Bank API.
type WorldBank struct {
	BaseURL string
	HTTP    *http.Client
	// PerPage is the page size requested; the API caps it at 32500.
	PerPage int
}

// NewWorldBank returns a client for baseURL, or DefaultWorldBankURL when empty.
func NewWorldBank(baseURL string, client *http.Client) *WorldBank {
	if baseURL == "" {
		baseURL = DefaultWorldBankURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WorldBank{BaseURL: strings.TrimSuffix(baseURL, "/"), HTTP: client, PerPage: 1000}
}

type wbPage struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage any `json:"per_page"`
	Total   int `json:"total"`
}

type wbMessage struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type wbRow struct {
	Country struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"country"`
	ISO3  string   `json:"countryiso3code"`
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// Indicator fetches indicator for every code over [from, to], following
// pagination. Rows without a value or a numeric year are skipped.
func (c *WorldBank) Indicator(ctx context.Context, codes []globeapi.CountryCode, indicator string, from, to int) (Series, error) {
	out := newSeries()
	if len(codes) == 0 {
		return out, nil
	}
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = string(code)
	}
	for page := 1; ; page++ {
		meta, rows, err := c.page(ctx, strings.Join(parts, ";"), indicator, from, to, page)
		if err != nil {
			return Series{}, err
		}
		for _, row := range rows {
			code, ok := globeapi.ParseCountryCode(row.ISO3)
			if !ok {
				continue
			}
			if row.Country.Value != "" {
				out.Names[code] = row.Country.Value
			}
			year, err := strconv.Atoi(row.Date)
			if err != nil || row.Value == nil {
				continue
			}
			out.Points[code] = append(out.Points[code], Point{Year: year, Value: *row.Value})
		}
		if page >= meta.Pages {
			return out, nil
		}
	}
}

func (c *WorldBank) page(ctx context.Context, codes, indicator string, from, to, page int) (wbPage, []wbRow, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("per_page", strconv.Itoa(c.PerPage))
	q.Set("page", strconv.Itoa(page))
	if from > 0 && to >= from {
		q.Set("date", fmt.Sprintf("%d:%d", from, to))
	}
	endpoint := fmt.Sprintf("%s/country/%s/indicator/%s?%s", c.BaseURL, codes, url.PathEscape(indicator), q.Encode())
	body, err := get(ctx, c.HTTP, endpoint)
	if err != nil {
		return wbPage{}, nil, err
	}
	// Success is [meta, rows]; failures are [{"message": [...]}].
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return wbPage{}, nil, fmt.Errorf("decode world bank response: %w", err)
	}
	if len(envelope) == 0 {
		return wbPage{}, nil, fmt.Errorf("empty world bank response for %s", indicator)
	}
	var failure struct {
		Message []wbMessage `json:"message"`
	}
	if err := json.Unmarshal(envelope[0], &failure); err == nil && len(failure.Message) > 0 {
		return wbPage{}, nil, fmt.Errorf("world bank %s: %s", indicator, failure.Message[0].Value)
	}
	var meta wbPage
	if err := json.Unmarshal(envelope[0], &meta); err != nil {
		return wbPage{}, nil, fmt.Errorf("decode world bank page: %w", err)
	}
	var rows []wbRow
	if len(envelope) > 1 && string(envelope[1]) != "null" {
		if err := json.Unmarshal(envelope[1], &rows); err != nil {
			return wbPage{}, nil, fmt.Errorf("decode world bank rows: %w", err)
		}
	}
	return meta, rows, nil
}
