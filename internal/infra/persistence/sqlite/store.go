// Package sqlite persists dataset snapshots to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pulse/internal/snapshot"
)

// DefaultRetain is the number of snapshots kept when the caller passes 0.
const DefaultRetain = 10

// Store keeps snapshots in a single table; loaded_at is stored as unix
// nanoseconds so ordering is numeric.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	path   string
	retain int
}

// NewStore opens (creating if needed) the SQLite file at path.
func NewStore(path string, retain int) (*Store, error) {
	if path == "" {
		path = "pulse.db"
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		source_etag TEXT NOT NULL DEFAULT '',
		loaded_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &Store{db: db, path: path, retain: retain}, nil
}

// Save upserts snap and prunes everything beyond the retention window.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) (retErr error) {
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id, source_key, source_etag, loaded_at, payload) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET source_key=excluded.source_key, source_etag=excluded.source_etag, loaded_at=excluded.loaded_at, payload=excluded.payload`,
		snap.ID, snap.SourceKey, snap.SourceETag, snap.LoadedAt.UTC().UnixNano(), snap.Payload); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id NOT IN (
		SELECT id FROM snapshots ORDER BY loaded_at DESC, rowid DESC LIMIT ?)`, s.retain); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context) (snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source_key, source_etag, loaded_at, payload FROM snapshots ORDER BY loaded_at DESC, rowid DESC LIMIT 1`)
	var (
		snap  snapshot.Snapshot
		nanos int64
	)
	if err := row.Scan(&snap.ID, &snap.SourceKey, &snap.SourceETag, &nanos, &snap.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, snapshot.ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("select latest snapshot: %w", err)
	}
	snap.LoadedAt = time.Unix(0, nanos).UTC()
	return snap, nil
}

func (s *Store) History(ctx context.Context, limit int) ([]snapshot.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_key, source_etag, loaded_at FROM snapshots ORDER BY loaded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []snapshot.Snapshot
	for rows.Next() {
		var (
			snap  snapshot.Snapshot
			nanos int64
		)
		if err := rows.Scan(&snap.ID, &snap.SourceKey, &snap.SourceETag, &nanos); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		snap.LoadedAt = time.Unix(0, nanos).UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
