package globeapi

import "time"

// IngestStats counts what normalization kept and skipped.
type IngestStats struct {
	Records             int `json:"records"`
	SkippedRecords      int `json:"skipped_records"`
	Observations        int `json:"observations"`
	DroppedObservations int `json:"dropped_observations"`
}

// DatasetStatus describes the dataset a server currently answers from and the
// outcome of its most recent load attempt.
type DatasetStatus struct {
	Loaded        bool        `json:"loaded"`
	Restored      bool        `json:"restored"`
	SourceKey     string      `json:"source_key,omitempty"`
	SourceETag    string      `json:"source_etag,omitempty"`
	SnapshotID    string      `json:"snapshot_id,omitempty"`
	LoadedAt      time.Time   `json:"loaded_at,omitzero"`
	Countries     int         `json:"countries"`
	MinYear       int         `json:"min_year,omitempty"`
	MaxYear       int         `json:"max_year,omitempty"`
	Stats         IngestStats `json:"stats"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitzero"`
	LastError     string      `json:"last_error,omitempty"`
	Loads         int64       `json:"loads"`
	Failures      int64       `json:"failures"`
}
