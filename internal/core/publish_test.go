package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulse/internal/blob"
	"pulse/internal/dataset"
)

func TestDatasetKeySortsByTime(t *testing.T) {
	early := DatasetKey("datasets/", time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC))
	late := DatasetKey("datasets/", time.Date(2024, 3, 10, 1, 0, 0, 0, time.FixedZone("CET", 3600)))
	if early != "datasets/20240309T235959Z.json" {
		t.Fatalf("unexpected key %s", early)
	}
	if !(early < late) {
		t.Fatalf("expected %s < %s", early, late)
	}
}

func TestPublishValidatesAndUploads(t *testing.T) {
	store := blob.NewMemory()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	info, err := Publish(context.Background(), store, "datasets/", []byte(rawV2), at)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if info.Key != "datasets/20240501T120000Z.json" || info.Metadata["countries"] != "2" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := Publish(context.Background(), store, "datasets/", []byte(`"nope"`), at.Add(time.Hour)); !errors.Is(err, dataset.ErrMalformedDataset) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if _, err := Publish(context.Background(), store, "datasets/", []byte(`{"??": {}}`), at.Add(time.Hour)); err == nil {
		t.Fatalf("expected empty dataset to be rejected")
	}
	if _, err := Publish(context.Background(), store, "datasets/", []byte(rawV1), at); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 1 {
		t.Fatalf("rejected documents were uploaded: %+v", list)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	store := blob.NewMemory()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := Publish(ctx, store, "datasets/", []byte(rawV1), base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	put(t, store, "datasets/README.txt", "notes")
	deleted, err := Prune(ctx, store, "datasets/", 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != "datasets/20240101T000000Z.json" || deleted[1] != "datasets/20240101T010000Z.json" {
		t.Fatalf("unexpected deletions %v", deleted)
	}
	list, _ := store.List(ctx, "datasets/")
	if len(list) != 3 {
		t.Fatalf("expected 2 datasets and the readme, got %+v", list)
	}
	if deleted, err := Prune(ctx, store, "datasets/", 5); err != nil || len(deleted) != 0 {
		t.Fatalf("expected nothing to prune, got %v %v", deleted, err)
	}
	if _, err := Prune(ctx, store, "datasets/", 0); err == nil {
		t.Fatalf("expected error for zero retain")
	}
}
