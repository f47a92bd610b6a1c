package globe

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulse/pkg/globeapi"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

var csvHeader = []string{"rank", "code", "name", "value", "display", "source_year", "is_estimated"}

// negotiateFormat prefers the format query parameter over the Accept header.
// It returns "" for anything other than json or csv.
func negotiateFormat(r *http.Request) string {
	wanted := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if wanted == "" {
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			return formatCSV
		}
		return formatJSON
	}
	switch wanted {
	case formatJSON, formatCSV:
		return wanted
	}
	return ""
}

func streamCSV(w http.ResponseWriter, mode globeapi.Mode, year int, rows []rankRow, now time.Time) error {
	filename := fmt.Sprintf("%s-%d-%s.csv", strings.ToLower(mode.Name), year, now.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Rank),
			string(row.Code),
			row.Name,
			strconv.FormatFloat(row.Value, 'f', -1, 64),
			row.Display,
			strconv.Itoa(row.SourceYear),
			strconv.FormatBool(row.IsEstimated),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
