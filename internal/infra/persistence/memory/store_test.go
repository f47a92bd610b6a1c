package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulse/internal/snapshot"
)

var _ snapshot.Store = (*Store)(nil)

func snap(id string, at time.Time) snapshot.Snapshot {
	return snapshot.Snapshot{ID: id, SourceKey: "datasets/" + id + ".json", LoadedAt: at, Payload: []byte(`{"data":{}}`)}
}

func TestStoreLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewStore(2)
	if _, err := store.Latest(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, snap(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	latest, err := store.Latest(ctx)
	if err != nil || latest.ID != "c" || string(latest.Payload) != `{"data":{}}` {
		t.Fatalf("latest: %v %+v", err, latest)
	}
	latest.Payload[0] = 'X'
	if again, _ := store.Latest(ctx); again.Payload[0] != '{' {
		t.Fatalf("payload shared with caller")
	}
	history, _ := store.History(ctx, 0)
	if len(history) != 2 || history[0].ID != "c" || history[1].ID != "b" || history[0].Payload != nil {
		t.Fatalf("unexpected history %+v", history)
	}
	if limited, _ := store.History(ctx, 1); len(limited) != 1 {
		t.Fatalf("limit ignored")
	}
}

func TestStoreSaveReplacesSameID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(0)
	at := time.Now().UTC()
	_ = store.Save(ctx, snap("a", at))
	again := snap("a", at.Add(time.Minute))
	again.SourceETag = "etag-2"
	if err := store.Save(ctx, again); err != nil {
		t.Fatalf("save: %v", err)
	}
	history, _ := store.History(ctx, 0)
	if len(history) != 1 || history[0].SourceETag != "etag-2" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	store := NewStore(1)
	if err := store.Save(context.Background(), snapshot.Snapshot{ID: "x"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
