// Package postgres persists dataset snapshots to PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"pulse/internal/snapshot"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/pulse?sslmode=disable"
	// DefaultRetain is the number of snapshots kept when the caller passes 0.
	DefaultRetain = 10
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store keeps snapshots in the snapshots table. Payloads are stored as BYTEA
// so the canonical encoding survives byte for byte.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	retain int
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the snapshots table exists.
func NewStore(dsn string, retain int) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if retain <= 0 {
		retain = DefaultRetain
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, retain: retain}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		source_etag TEXT NOT NULL DEFAULT '',
		loaded_at TIMESTAMPTZ NOT NULL,
		payload BYTEA NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure snapshots table: %w", err)
	}
	return nil
}

// Save upserts snap and prunes everything beyond the retention window.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id, source_key, source_etag, loaded_at, payload) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET source_key=EXCLUDED.source_key, source_etag=EXCLUDED.source_etag, loaded_at=EXCLUDED.loaded_at, payload=EXCLUDED.payload`,
		snap.ID, snap.SourceKey, snap.SourceETag, snap.LoadedAt.UTC(), snap.Payload); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.ID, err)
	}
	metas, err := listMeta(ctx, tx)
	if err != nil {
		return err
	}
	for i := s.retain; i < len(metas); i++ {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = $1`, metas[i].ID); err != nil {
			return fmt.Errorf("prune snapshot %s: %w", metas[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) Latest(ctx context.Context) (snapshot.Snapshot, error) {
	metas, err := listMeta(ctx, s.db)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if len(metas) == 0 {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	latest := metas[0]
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM snapshots WHERE id = $1`, latest.ID)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("select payload: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("scan payload: %w", err)
		}
		if id == latest.ID {
			latest.Payload = payload
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("iterate payload: %w", err)
	}
	if latest.Payload == nil {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return latest, nil
}

func (s *Store) History(ctx context.Context, limit int) ([]snapshot.Snapshot, error) {
	metas, err := listMeta(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// listMeta returns snapshot metadata newest first. The table is bounded by
// the retention window, so ordering happens here.
func listMeta(ctx context.Context, q queryer) ([]snapshot.Snapshot, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, source_key, source_etag, loaded_at FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []snapshot.Snapshot
	for rows.Next() {
		var (
			snap     snapshot.Snapshot
			loadedAt time.Time
		)
		if err := rows.Scan(&snap.ID, &snap.SourceKey, &snap.SourceETag, &loadedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.LoadedAt = loadedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LoadedAt.Equal(out[j].LoadedAt) {
			return out[i].LoadedAt.After(out[j].LoadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
