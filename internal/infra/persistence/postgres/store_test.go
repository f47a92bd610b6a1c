package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"pulse/internal/infra/persistence/postgres/testutil"
	"pulse/internal/snapshot"
)

var _ snapshot.Store = (*Store)(nil)

func stubStore(t *testing.T, retain int) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %s", driverName)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore("", retain)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func snap(id string, at time.Time) snapshot.Snapshot {
	return snapshot.Snapshot{ID: id, SourceKey: "datasets/" + id, SourceETag: "etag-" + id, LoadedAt: at, Payload: []byte(`{"data":{"` + id + `":{}}}`)}
}

func TestNewStoreEnsuresTable(t *testing.T) {
	_, conn := stubStore(t, 0)
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS snapshots") {
		t.Fatalf("expected snapshots ddl, got %v", conn.Execs)
	}
}

func TestSaveLatestAndPrune(t *testing.T) {
	store, conn := stubStore(t, 2)
	ctx := context.Background()
	if _, err := store.Latest(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, snap(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if rows := conn.Rows("snapshots"); len(rows) != 2 {
		t.Fatalf("expected pruning to 2 rows, got %d", len(rows))
	}
	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != "c" || latest.SourceETag != "etag-c" || string(latest.Payload) != `{"data":{"c":{}}}` {
		t.Fatalf("unexpected latest %+v", latest)
	}
	history, err := store.History(ctx, 0)
	if err != nil || len(history) != 2 || history[0].ID != "c" || history[1].ID != "b" {
		t.Fatalf("history: %v %+v", err, history)
	}
	if limited, _ := store.History(ctx, 1); len(limited) != 1 {
		t.Fatalf("limit ignored")
	}
}

func TestSaveUpsertsSameID(t *testing.T) {
	store, conn := stubStore(t, 5)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_ = store.Save(ctx, snap("a", at))
	again := snap("a", at.Add(time.Minute))
	again.SourceETag = "etag-new"
	if err := store.Save(ctx, again); err != nil {
		t.Fatalf("save: %v", err)
	}
	rows := conn.Rows("snapshots")
	if len(rows) != 1 || rows[0]["source_etag"] != "etag-new" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestSaveErrorsRollBack(t *testing.T) {
	store, conn := stubStore(t, 2)
	ctx := context.Background()
	if err := store.Save(ctx, snapshot.Snapshot{ID: "bad"}); err == nil {
		t.Fatalf("expected validation error")
	}
	conn.FailTables = map[string]bool{"snapshots": true}
	if err := store.Save(ctx, snap("a", time.Now())); err == nil {
		t.Fatalf("expected insert error")
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected rollback")
	}
	conn.FailTables = nil
	conn.FailCommit = true
	if err := store.Save(ctx, snap("b", time.Now())); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	conn.FailCommit = false
	conn.FailBegin = true
	if err := store.Save(ctx, snap("c", time.Now())); err == nil {
		t.Fatalf("expected begin error")
	}
}

func TestLatestQueryErrors(t *testing.T) {
	store, conn := stubStore(t, 2)
	conn.FailQuery = true
	if _, err := store.Latest(context.Background()); err == nil {
		t.Fatalf("expected query error")
	}
	if _, err := store.History(context.Background(), 0); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestNewStoreFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore("postgres://x", 1); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("", 1); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
