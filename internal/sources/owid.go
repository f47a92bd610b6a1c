package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"pulse/pkg/globeapi"
)

// DefaultOWIDURL is the Our World in Data CO2 database in JSON form.
const DefaultOWIDURL = "https://raw.githubusercontent.com/owid/co2-data/master/owid-co2-data.json"

// owidAliases maps codes whose OWID entry uses a different identifier.
var owidAliases = map[globeapi.CountryCode][]string{
	"EUU": {"OWID_EU27", "European Union (27)"},
}

// OWID reads per-country columns from the OWID CO2 database.
type OWID struct {
	URL  string
	HTTP *http.Client
}

// NewOWID returns a client for dbURL, or DefaultOWIDURL when empty.
func NewOWID(dbURL string, client *http.Client) *OWID {
	if dbURL == "" {
		dbURL = DefaultOWIDURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OWID{URL: dbURL, HTTP: client}
}

type owidEntry struct {
	ISOCode string                       `json:"iso_code"`
	Data    []map[string]json.RawMessage `json:"data"`
}

// Column downloads the database once and extracts column for every code over
// [from, to]. Entries are matched by key, by iso_code, then by alias.
func (c *OWID) Column(ctx context.Context, codes []globeapi.CountryCode, column string, from, to int) (Series, error) {
	body, err := get(ctx, c.HTTP, c.URL)
	if err != nil {
		return Series{}, err
	}
	var db map[string]owidEntry
	if err := json.Unmarshal(body, &db); err != nil {
		return Series{}, fmt.Errorf("decode owid database: %w", err)
	}
	byISO := make(map[string]string, len(db))
	for name, entry := range db {
		if entry.ISOCode != "" {
			byISO[entry.ISOCode] = name
		}
	}

	out := newSeries()
	for _, code := range codes {
		name, entry, ok := lookupOWID(db, byISO, code)
		if !ok {
			continue
		}
		// The published file is keyed by country name.
		if len(name) > 3 {
			out.Names[code] = name
		}
		for _, row := range entry.Data {
			var year int
			var value float64
			if err := json.Unmarshal(row["year"], &year); err != nil {
				continue
			}
			raw, ok := row[column]
			if !ok || string(raw) == "null" || json.Unmarshal(raw, &value) != nil {
				continue
			}
			if from > 0 && (year < from || year > to) {
				continue
			}
			out.Points[code] = append(out.Points[code], Point{Year: year, Value: value})
		}
	}
	return out, nil
}

func lookupOWID(db map[string]owidEntry, byISO map[string]string, code globeapi.CountryCode) (string, owidEntry, bool) {
	candidates := append([]string{string(code)}, owidAliases[code]...)
	for _, key := range candidates {
		if entry, ok := db[key]; ok {
			return key, entry, true
		}
		if name, ok := byISO[key]; ok {
			return name, db[name], true
		}
	}
	return "", owidEntry{}, false
}
