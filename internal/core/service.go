// Package core orchestrates dataset loading: it reads the newest raw document
// from the blob store, normalizes it, swaps it into the query engine and keeps
// a canonical snapshot of every applied dataset.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pulse/internal/blob"
	"pulse/internal/dataset"
	"pulse/internal/engine"
	"pulse/internal/snapshot"
	"pulse/pkg/globeapi"
)

// ErrNoDataset is returned by Load when no raw document exists under the prefix.
var ErrNoDataset = errors.New("no dataset published")

const (
	opLoad    = "dataset_load"
	opRestore = "snapshot_restore"
	opPersist = "snapshot_save"
)

// LoadResult describes one Load call.
type LoadResult struct {
	SourceKey  string        `json:"source_key"`
	SourceETag string        `json:"source_etag,omitempty"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	Changed    bool          `json:"changed"`
	Superseded bool          `json:"superseded,omitempty"`
	Stats      dataset.Stats `json:"stats"`
}

// Status is the service's view of the dataset currently served.
type Status = globeapi.DatasetStatus

// Service loads datasets into an engine.Engine. Load and Restore are safe for
// concurrent use; each call takes a sequence number and its result is applied
// only if no later call was applied first.
type Service struct {
	engine    *engine.Engine
	blobs     blob.Store
	snapshots SnapshotStore

	prefix  string
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
	newID   func() string

	seq     atomic.Uint64
	mu      sync.Mutex
	applied uint64
	status  Status
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithPrefix sets the blob key prefix raw datasets are published under.
func WithPrefix(prefix string) Option {
	return func(s *Service) { s.prefix = prefix }
}

// WithClock overrides the time source used for load timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a service around eng. snaps may be nil, in which case
// nothing is persisted and Restore reports snapshot.ErrNotFound.
func NewService(eng *engine.Engine, blobs blob.Store, snaps SnapshotStore, opts ...Option) *Service {
	if eng == nil {
		eng = engine.New(nil)
	}
	s := &Service{
		engine:    eng,
		blobs:     blobs,
		snapshots: snaps,
		prefix:    "datasets/",
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Engine() *engine.Engine { return s.engine }

func (s *Service) Blobs() blob.Store { return s.blobs }

func (s *Service) Prefix() string { return s.prefix }

// Status returns a copy of the current load status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Load applies the newest raw document under the prefix. An unchanged source
// (same key and ETag as the dataset served) is not re-read. On failure the
// previous dataset stays in place and the error is recorded in Status.
func (s *Service) Load(ctx context.Context) (res LoadResult, err error) {
	seq := s.seq.Add(1)
	start := s.now().UTC()
	ctx, span := s.tracer.Start(ctx, opLoad)
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, opLoad, err == nil, s.now().Sub(start))
		if err != nil {
			s.recordFailure(seq, start, res.SourceKey, err)
		}
	}()

	if s.blobs == nil {
		return res, errors.New("blob store not configured")
	}
	infos, err := s.blobs.List(ctx, s.prefix)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", s.prefix, err)
	}
	info, ok := blob.Latest(infos)
	if !ok {
		return res, fmt.Errorf("%w under %q", ErrNoDataset, s.prefix)
	}
	res.SourceKey, res.SourceETag = info.Key, info.ETag

	if s.unchanged(seq, info, start) {
		s.logger.Debug("dataset_load_skipped", "source_key", info.Key, "etag", info.ETag)
		return res, nil
	}

	got, rc, err := s.blobs.Get(ctx, info.Key)
	if err != nil {
		return res, fmt.Errorf("get %s: %w", info.Key, err)
	}
	ds, err := dataset.NormalizeReader(rc)
	_ = rc.Close()
	if err != nil {
		return res, fmt.Errorf("normalize %s: %w", info.Key, err)
	}
	if got.ETag != "" {
		info.ETag = got.ETag
		res.SourceETag = got.ETag
	}
	res.Stats = ds.Stats()

	if !s.apply(seq, ds, info, start, "", false) {
		res.Superseded = true
		s.logger.Info("dataset_load_superseded", "source_key", info.Key, "seq", seq)
		return res, nil
	}
	res.Changed = true
	stats := ds.Stats()
	s.logger.Info("dataset_load_succeeded",
		"source_key", info.Key,
		"countries", ds.Len(),
		"records", stats.Records,
		"skipped_records", stats.SkippedRecords,
		"observations", stats.Observations,
		"dropped_observations", stats.DroppedObservations,
	)
	res.SnapshotID = s.persist(ctx, seq, ds, info, start)
	return res, nil
}

// Restore installs the most recent persisted snapshot. It is meant for start-up
// so queries can be answered before the first Load completes.
func (s *Service) Restore(ctx context.Context) (snap Snapshot, err error) {
	if s.snapshots == nil {
		return Snapshot{}, snapshot.ErrNotFound
	}
	seq := s.seq.Add(1)
	start := s.now()
	ctx, span := s.tracer.Start(ctx, opRestore)
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, opRestore, err == nil || errors.Is(err, snapshot.ErrNotFound), s.now().Sub(start))
	}()

	snap, err = s.snapshots.Latest(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	ds, err := dataset.Normalize(snap.Payload)
	if err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	if !s.apply(seq, ds, blob.Info{Key: snap.SourceKey, ETag: snap.SourceETag}, snap.LoadedAt, snap.ID, true) {
		s.logger.Info("snapshot_restore_superseded", "snapshot_id", snap.ID)
		return snap, nil
	}
	s.logger.Info("snapshot_restored", "snapshot_id", snap.ID, "source_key", snap.SourceKey, "countries", ds.Len())
	return snap, nil
}

// History lists persisted snapshots newest first.
func (s *Service) History(ctx context.Context, limit int) ([]Snapshot, error) {
	if s.snapshots == nil {
		return []Snapshot{}, nil
	}
	return s.snapshots.History(ctx, limit)
}

// SourceURL pre-signs a GET URL for the raw document behind the served dataset.
func (s *Service) SourceURL(ctx context.Context, expiry time.Duration) (string, error) {
	key := s.Status().SourceKey
	if key == "" || s.blobs == nil {
		return "", ErrNoDataset
	}
	return s.blobs.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
}

func (s *Service) unchanged(seq uint64, info blob.Info, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	same := s.status.Loaded && info.ETag != "" &&
		info.Key == s.status.SourceKey && info.ETag == s.status.SourceETag
	if same && seq > s.applied {
		s.status.LastAttemptAt = at
		s.status.LastError = ""
	}
	return same
}

func (s *Service) apply(seq uint64, ds *dataset.Dataset, src blob.Info, at time.Time, snapshotID string, restored bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		return false
	}
	s.applied = seq
	s.engine.Replace(ds)
	minYear, maxYear, _ := ds.YearRange()
	s.status = Status{
		Loaded:        true,
		Restored:      restored,
		SourceKey:     src.Key,
		SourceETag:    src.ETag,
		SnapshotID:    snapshotID,
		LoadedAt:      at,
		Countries:     ds.Len(),
		MinYear:       minYear,
		MaxYear:       maxYear,
		Stats:         ds.Stats(),
		LastAttemptAt: at,
		Loads:         s.status.Loads + 1,
		Failures:      s.status.Failures,
	}
	if obs, ok := s.metrics.(DatasetObserver); ok {
		obs.ObserveDataset(ds.Len(), ds.Stats().Observations)
	}
	return true
}

func (s *Service) recordFailure(seq uint64, at time.Time, key string, err error) {
	s.mu.Lock()
	s.status.Failures++
	if seq > s.applied {
		s.status.LastAttemptAt = at
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
	s.logger.Error("dataset_load_failed", "source_key", key, "error", err)
}

// persist saves the canonical encoding of ds. A failed save is logged and does
// not undo the load.
func (s *Service) persist(ctx context.Context, seq uint64, ds *dataset.Dataset, src blob.Info, at time.Time) string {
	if s.snapshots == nil {
		return ""
	}
	start := s.now()
	id, err := s.save(ctx, ds, src, at)
	s.metrics.Observe(ctx, opPersist, err == nil, s.now().Sub(start))
	if err != nil {
		s.logger.Warn("snapshot_save_failed", "source_key", src.Key, "error", err)
		return ""
	}
	s.mu.Lock()
	if s.applied == seq {
		s.status.SnapshotID = id
	}
	s.mu.Unlock()
	return id
}

func (s *Service) save(ctx context.Context, ds *dataset.Dataset, src blob.Info, at time.Time) (string, error) {
	payload, err := ds.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}
	snap := Snapshot{
		ID:         s.newID(),
		SourceKey:  src.Key,
		SourceETag: src.ETag,
		LoadedAt:   at,
		Payload:    payload,
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return snap.ID, nil
}
