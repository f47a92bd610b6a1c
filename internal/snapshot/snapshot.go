// Package snapshot defines the persisted form of a successfully loaded
// dataset and the contract its storage backends satisfy.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// Snapshot is the canonical encoding of one loaded dataset plus the blob it
// came from.
type Snapshot struct {
	ID         string    `json:"id"`
	SourceKey  string    `json:"source_key"`
	SourceETag string    `json:"source_etag,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`
	Payload    []byte    `json:"-"`
}

// Store keeps the most recent snapshot and a bounded history of earlier ones.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	// Latest returns ErrNotFound when nothing was saved yet.
	Latest(ctx context.Context) (Snapshot, error)
	// History lists saved snapshots newest first without payloads.
	History(ctx context.Context, limit int) ([]Snapshot, error)
	Close() error
}

// ErrNotFound is returned by Latest on an empty store.
var ErrNotFound = errors.New("snapshot: not found")

// Validate checks the fields every backend requires.
func (s Snapshot) Validate() error {
	switch {
	case s.ID == "":
		return errors.New("snapshot id required")
	case len(s.Payload) == 0:
		return errors.New("snapshot payload required")
	case s.LoadedAt.IsZero():
		return errors.New("snapshot load time required")
	}
	return nil
}
