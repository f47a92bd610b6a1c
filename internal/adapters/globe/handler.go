// Package globe exposes the query engine over HTTP for the globe UI: mode
// catalog, single-value resolution, leaderboards and country detail panels.
package globe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pulse/docs/schema/openapi"
	"pulse/internal/blob"
	"pulse/internal/dataset"
	"pulse/internal/engine"
	"pulse/internal/snapshot"
	"pulse/pkg/globeapi"
)

const apiPrefix = "/api/v1"

// Engine answers resolution and ranking queries.
type Engine interface {
	Resolve(code globeapi.CountryCode, mode string, year int) globeapi.ResolvedValue
	Rank(mode string, year int, opts engine.RankOptions) []globeapi.RankEntry
	Detail(code globeapi.CountryCode, year int) engine.CountryDetail
	MetricCatalog() []globeapi.Mode
	LatestYear() (int, bool)
	Dataset() *dataset.Dataset
}

// Datasets reports where the served dataset came from.
type Datasets interface {
	Status() globeapi.DatasetStatus
	History(ctx context.Context, limit int) ([]snapshot.Snapshot, error)
	SourceURL(ctx context.Context, expiry time.Duration) (string, error)
}

// Reloader schedules an asynchronous dataset reload.
type Reloader interface {
	Trigger() bool
}

// Handler serves the /api/v1 query surface. Datasets and Reloader are
// optional; their endpoints answer 404 when unset.
type Handler struct {
	Engine   Engine
	Datasets Datasets
	Reloader Reloader
	Logger   *slog.Logger
	// SourceURLExpiry bounds pre-signed source URLs (default 15m).
	SourceURLExpiry time.Duration
	// HistoryLimit caps the snapshots listed by /dataset (default 10).
	HistoryLimit int

	now func() time.Time
}

// NewHandler constructs a handler over e.
func NewHandler(e Engine) *Handler {
	return &Handler{Engine: e}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeError(w, http.StatusInternalServerError, "query engine not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == apiPrefix+"/modes":
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"modes": h.Engine.MetricCatalog()})
	case strings.HasPrefix(path, apiPrefix+"/resolve/"):
		if !allowGet(w, r) {
			return
		}
		h.handleResolve(w, r, strings.TrimPrefix(path, apiPrefix+"/resolve/"))
	case path == apiPrefix+"/rank":
		if !allowGet(w, r) {
			return
		}
		h.handleRank(w, r)
	case strings.HasPrefix(path, apiPrefix+"/countries/"):
		if !allowGet(w, r) {
			return
		}
		h.handleCountry(w, r, strings.TrimPrefix(path, apiPrefix+"/countries/"))
	case path == apiPrefix+"/openapi.json":
		if !allowGet(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(openapi.GlobeAPISpec)
	case path == apiPrefix+"/dataset":
		if h.Datasets == nil {
			http.NotFound(w, r)
			return
		}
		if !allowGet(w, r) {
			return
		}
		h.handleDataset(w, r)
	case path == apiPrefix+"/dataset/reload":
		if h.Reloader == nil {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		queued := h.Reloader.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
	default:
		http.NotFound(w, r)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

type resolveResponse struct {
	Code     globeapi.CountryCode   `json:"code"`
	Mode     string                 `json:"mode"`
	Year     int                    `json:"year"`
	Resolved globeapi.ResolvedValue `json:"resolved"`
	Display  string                 `json:"display"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request, rawCode string) {
	code, ok := globeapi.ParseCountryCode(rawCode)
	if !ok || strings.Contains(rawCode, "/") {
		writeError(w, http.StatusBadRequest, "invalid country code")
		return
	}
	mode, ok := globeapi.LookupMode(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	year, err := h.year(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolved := h.Engine.Resolve(code, mode.Name, year)
	writeJSON(w, http.StatusOK, resolveResponse{
		Code:     code,
		Mode:     mode.Name,
		Year:     year,
		Resolved: resolved,
		Display:  globeapi.FormatValue(mode, resolved.Value),
	})
}

type rankRow struct {
	globeapi.RankEntry
	Display string `json:"display"`
}

type rankResponse struct {
	Mode    globeapi.Mode `json:"mode"`
	Year    int           `json:"year"`
	Total   int           `json:"total"`
	Entries []rankRow     `json:"entries"`
}

func (h *Handler) handleRank(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode, ok := globeapi.LookupMode(query.Get("mode"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	year, err := h.year(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := engine.RankOptions{Search: query.Get("search")}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}
	if raw := query.Get("include_zeros"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_zeros must be a boolean")
			return
		}
		opts.IncludeZeros = include
	}

	format := negotiateFormat(r)
	if format == "" {
		writeError(w, http.StatusNotAcceptable, "requested format not supported")
		return
	}
	entries := h.Engine.Rank(mode.Name, year, opts)
	rows := make([]rankRow, len(entries))
	for i, entry := range entries {
		rows[i] = rankRow{RankEntry: entry, Display: globeapi.FormatValue(mode, entry.Value)}
	}
	if format == formatCSV {
		if err := streamCSV(w, mode, year, rows, h.clock()); err != nil {
			h.logger().Error("http_request_failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		}
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{Mode: mode, Year: year, Total: len(rows), Entries: rows})
}

func (h *Handler) handleCountry(w http.ResponseWriter, r *http.Request, rawCode string) {
	code, ok := globeapi.ParseCountryCode(rawCode)
	if !ok || strings.Contains(rawCode, "/") {
		writeError(w, http.StatusBadRequest, "invalid country code")
		return
	}
	year, err := h.year(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"country": h.Engine.Detail(code, year)})
}

type datasetResponse struct {
	Status    globeapi.DatasetStatus     `json:"status"`
	Meta      map[string]json.RawMessage `json:"meta,omitempty"`
	SourceURL string                     `json:"source_url,omitempty"`
	History   []snapshot.Snapshot        `json:"history"`
}

func (h *Handler) handleDataset(w http.ResponseWriter, r *http.Request) {
	resp := datasetResponse{Status: h.Datasets.Status(), Meta: h.Engine.Dataset().Meta()}
	if resp.Status.Loaded {
		url, err := h.Datasets.SourceURL(r.Context(), h.sourceURLExpiry())
		switch {
		case err == nil:
			resp.SourceURL = url
		case !errors.Is(err, blob.ErrUnsupported):
			h.logger().Warn("source_url_failed", slog.String("source_key", resp.Status.SourceKey), slog.Any("err", err))
		}
	}
	limit := h.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	history, err := h.Datasets.History(r.Context(), limit)
	if err != nil {
		h.logger().Error("http_request_failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "snapshot history unavailable")
		return
	}
	resp.History = history
	writeJSON(w, http.StatusOK, resp)
}

// year reads the year query parameter, defaulting to the latest dated year of
// the dataset, or the current year when nothing is loaded.
func (h *Handler) year(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("year"))
	if raw == "" {
		if latest, ok := h.Engine.LatestYear(); ok {
			return latest, nil
		}
		return h.clock().UTC().Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("year must be an integer")
	}
	return year, nil
}

func (h *Handler) sourceURLExpiry() time.Duration {
	if h.SourceURLExpiry > 0 {
		return h.SourceURLExpiry
	}
	return 15 * time.Minute
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
