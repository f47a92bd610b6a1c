package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pulse/internal/blob"
	"pulse/internal/dataset"
	"pulse/internal/engine"
	"pulse/internal/infra/persistence/memory"
	"pulse/internal/snapshot"
	"pulse/pkg/globeapi"
)

const (
	rawV1 = `{"USA": {"energy": [{"year": 2000, "value": 10}, {"year": 2022, "value": 6363}]}}`
	rawV2 = `{"data": [{"iso_code": "usa", "country": "United States", "energy": [{"year": 2023, "value": 7000}]}, {"iso_code": "FRA", "gdp": 42000}]}`
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) add(level, msg string, args []any) {
	c.mu.Lock()
	c.entries = append(c.entries, logEntry{level: level, msg: msg, args: args})
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, args ...any) { c.add("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.add("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.add("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.add("error", msg, args) }

func (c *captureLogger) has(level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func put(t *testing.T, store blob.Store, key, body string) blob.Info {
	t.Helper()
	info, err := store.Put(context.Background(), key, strings.NewReader(body), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return info
}

func newTestService(t *testing.T, opts ...Option) (*Service, blob.Store, *memory.Store) {
	t.Helper()
	blobs := blob.NewMemory()
	snaps := memory.NewStore(0)
	clock := &fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewService(engine.New(nil), blobs, snaps, opts...), blobs, snaps
}

func TestServiceLoadAppliesNewestDocument(t *testing.T) {
	logger := &captureLogger{}
	svc, blobs, snaps := newTestService(t, WithLogger(logger))
	put(t, blobs, "datasets/20240101T000000Z.json", rawV1)
	newest := put(t, blobs, "datasets/20240102T000000Z.json", rawV2)
	put(t, blobs, "elsewhere/20990101T000000Z.json", `not json`)

	res, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !res.Changed || res.SourceKey != newest.Key || res.SourceETag != newest.ETag || res.SnapshotID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	got := svc.Engine().Resolve("USA", globeapi.ModeEnergy, 2023)
	if got != (globeapi.ResolvedValue{Value: 7000, SourceYear: 2023}) {
		t.Fatalf("engine not serving newest dataset: %+v", got)
	}
	st := svc.Status()
	if !st.Loaded || st.Restored || st.SourceKey != newest.Key || st.Countries != 2 || st.MaxYear != 2023 || st.SnapshotID != res.SnapshotID || st.Loads != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	snap, err := snaps.Latest(context.Background())
	if err != nil || snap.ID != res.SnapshotID || snap.SourceETag != newest.ETag {
		t.Fatalf("snapshot not saved: %+v %v", snap, err)
	}
	restored, err := dataset.Normalize(snap.Payload)
	if err != nil || !restored.Equal(svc.Engine().Dataset()) {
		t.Fatalf("snapshot payload does not round-trip: %v", err)
	}
	if !logger.has("info", "dataset_load_succeeded") {
		t.Fatalf("expected success log, got %+v", logger.entries)
	}
}

func TestServiceLoadSkipsUnchangedSource(t *testing.T) {
	svc, blobs, snaps := newTestService(t)
	put(t, blobs, "datasets/a.json", rawV1)
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("first load: %v", err)
	}
	before := svc.Engine().Dataset()
	res, err := svc.Load(context.Background())
	if err != nil || res.Changed {
		t.Fatalf("expected unchanged load, got %+v %v", res, err)
	}
	if svc.Engine().Dataset() != before {
		t.Fatalf("dataset replaced on unchanged source")
	}
	if history, _ := snaps.History(context.Background(), 0); len(history) != 1 {
		t.Fatalf("expected a single snapshot, got %d", len(history))
	}
	if svc.Status().Loads != 1 {
		t.Fatalf("unexpected load count %d", svc.Status().Loads)
	}
}

func TestServiceLoadFailureKeepsPreviousDataset(t *testing.T) {
	logger := &captureLogger{}
	svc, blobs, _ := newTestService(t, WithLogger(logger))
	put(t, blobs, "datasets/1.json", rawV1)
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	previous := svc.Engine().Dataset()
	put(t, blobs, "datasets/2.json", `[1, 2`)

	_, err := svc.Load(context.Background())
	if !errors.Is(err, dataset.ErrMalformedDataset) {
		t.Fatalf("expected malformed dataset error, got %v", err)
	}
	if svc.Engine().Dataset() != previous {
		t.Fatalf("failed load replaced the dataset")
	}
	st := svc.Status()
	if st.SourceKey != "datasets/1.json" || st.LastError == "" || st.Failures != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !logger.has("error", "dataset_load_failed") {
		t.Fatalf("expected failure log")
	}

	put(t, blobs, "datasets/3.json", rawV2)
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("recovery load: %v", err)
	}
	if st := svc.Status(); st.LastError != "" || st.SourceKey != "datasets/3.json" || st.Failures != 1 {
		t.Fatalf("error not cleared after recovery: %+v", st)
	}
}

func TestServiceLoadWithoutDocuments(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Load(context.Background()); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	if svc.Engine().Dataset() != nil {
		t.Fatalf("expected no dataset")
	}
	if _, err := svc.SourceURL(context.Background(), time.Minute); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset from SourceURL, got %v", err)
	}
	if _, err := NewService(nil, nil, nil).Load(context.Background()); err == nil {
		t.Fatalf("expected error without blob store")
	}
}

func TestServiceRestoreFromSnapshot(t *testing.T) {
	first, blobs, snaps := newTestService(t)
	put(t, blobs, "datasets/a.json", rawV2)
	res, err := first.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	second := NewService(engine.New(nil), blobs, snaps)
	snap, err := second.Restore(context.Background())
	if err != nil || snap.ID != res.SnapshotID {
		t.Fatalf("restore: %+v %v", snap, err)
	}
	st := second.Status()
	if !st.Restored || st.SnapshotID != res.SnapshotID || st.SourceKey != "datasets/a.json" {
		t.Fatalf("unexpected status %+v", st)
	}
	if !second.Engine().Dataset().Equal(first.Engine().Dataset()) {
		t.Fatalf("restored dataset differs")
	}
	again, err := second.Load(context.Background())
	if err != nil || again.Changed {
		t.Fatalf("source unchanged since snapshot, expected skip: %+v %v", again, err)
	}
}

func TestServiceRestoreEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Restore(context.Background()); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := NewService(nil, blob.NewMemory(), nil).Restore(context.Background()); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected not found without store, got %v", err)
	}
	if h, err := NewService(nil, nil, nil).History(context.Background(), 5); err != nil || h == nil || len(h) != 0 {
		t.Fatalf("expected empty history, got %v %v", h, err)
	}
}

// gatedStore blocks Get for one key until release is closed.
type gatedStore struct {
	blob.Store
	key     string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if key == g.key {
		close(g.entered)
		<-g.release
	}
	return g.Store.Get(ctx, key)
}

func TestServiceDropsSupersededLoad(t *testing.T) {
	inner := blob.NewMemory()
	put(t, inner, "datasets/1.json", rawV1)
	gated := &gatedStore{Store: inner, key: "datasets/1.json", entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(engine.New(nil), gated, memory.NewStore(0))

	type outcome struct {
		res LoadResult
		err error
	}
	slow := make(chan outcome, 1)
	go func() {
		res, err := svc.Load(context.Background())
		slow <- outcome{res, err}
	}()
	<-gated.entered

	put(t, inner, "datasets/2.json", rawV2)
	fast, err := svc.Load(context.Background())
	if err != nil || !fast.Changed || fast.SourceKey != "datasets/2.json" {
		t.Fatalf("fast load: %+v %v", fast, err)
	}
	close(gated.release)
	late := <-slow
	if late.err != nil || !late.res.Superseded || late.res.Changed {
		t.Fatalf("expected superseded result, got %+v %v", late.res, late.err)
	}
	if svc.Status().SourceKey != "datasets/2.json" || !svc.Engine().Dataset().Has("FRA") {
		t.Fatalf("superseded load was applied")
	}
}

type failingSnapshots struct{ snapshot.Store }

func (failingSnapshots) Save(context.Context, snapshot.Snapshot) error {
	return errors.New("disk full")
}

func TestServiceSnapshotFailureDoesNotFailLoad(t *testing.T) {
	logger := &captureLogger{}
	metrics := NewExpvarMetricsRecorder("")
	blobs := blob.NewMemory()
	put(t, blobs, "datasets/a.json", rawV1)
	svc := NewService(nil, blobs, failingSnapshots{}, WithLogger(logger), WithMetricsRecorder(metrics))

	res, err := svc.Load(context.Background())
	if err != nil || !res.Changed || res.SnapshotID != "" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
	if !logger.has("warn", "snapshot_save_failed") {
		t.Fatalf("expected snapshot warning")
	}
	snap := metrics.Snapshot()
	if snap.Results[opLoad]["success"] != 1 || snap.Results[opPersist]["error"] != 1 {
		t.Fatalf("unexpected metrics %+v", snap.Results)
	}
}

func TestServiceTracesOperations(t *testing.T) {
	var buf strings.Builder
	tracer := NewJSONTracer(&buf)
	svc, blobs, _ := newTestService(t, WithTracer(tracer))
	if _, err := svc.Load(context.Background()); err == nil {
		t.Fatalf("expected failure on empty store")
	}
	put(t, blobs, "datasets/a.json", rawV1)
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "error" || entries[1].Status != "success" || entries[1].Operation != opLoad {
		t.Fatalf("unexpected spans %+v", entries)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("expected two JSON lines, got %q", buf.String())
	}
}

func TestServiceSourceURL(t *testing.T) {
	blobs, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	put(t, blobs, "datasets/a.json", rawV1)
	svc := NewService(nil, blobs, nil, WithPrefix("datasets/"))
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	url, err := svc.SourceURL(context.Background(), time.Minute)
	if err != nil || !strings.HasSuffix(url, "datasets/a.json") {
		t.Fatalf("unexpected url %q %v", url, err)
	}
	if svc.Prefix() != "datasets/" || svc.Blobs() != blobs {
		t.Fatalf("accessors not wired")
	}
}
