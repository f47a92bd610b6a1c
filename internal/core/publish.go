package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulse/internal/blob"
	"pulse/internal/dataset"
)

// keyLayout sorts lexically in time order, which blob.Latest relies on.
const keyLayout = "20060102T150405Z"

// DatasetKey names the raw document published at t under prefix.
func DatasetKey(prefix string, t time.Time) string {
	return prefix + t.UTC().Format(keyLayout) + ".json"
}

// Publish validates raw and uploads it under DatasetKey(prefix, at). Documents
// that fail normalization or hold no country are rejected before upload.
func Publish(ctx context.Context, store blob.Store, prefix string, raw []byte, at time.Time) (blob.Info, error) {
	ds, err := dataset.Normalize(raw)
	if err != nil {
		return blob.Info{}, err
	}
	if ds.Len() == 0 {
		return blob.Info{}, errors.New("refusing to publish a dataset without countries")
	}
	key := DatasetKey(prefix, at)
	info, err := store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"countries":    strconv.Itoa(ds.Len()),
			"observations": strconv.Itoa(ds.Stats().Observations),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	return info, nil
}

// Prune deletes the oldest raw documents under prefix so that at most retain
// remain, and returns the deleted keys.
func Prune(ctx context.Context, store blob.Store, prefix string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, fmt.Errorf("retain must be positive, got %d", retain)
	}
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var datasets []blob.Info
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			datasets = append(datasets, info)
		}
	}
	if len(datasets) <= retain {
		return nil, nil
	}
	blob.SortByKey(datasets)
	var deleted []string
	for _, info := range datasets[:len(datasets)-retain] {
		if _, err := store.Delete(ctx, info.Key); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", info.Key, err)
		}
		deleted = append(deleted, info.Key)
	}
	return deleted, nil
}
