// Package memory keeps dataset snapshots in process memory. It backs tests and
// deployments that rebuild from the blob store on every start.
package memory

import (
	"context"
	"sort"
	"sync"

	"pulse/internal/snapshot"
)

// DefaultRetain is the number of snapshots kept when the caller passes 0.
const DefaultRetain = 10

// Store implements snapshot.Store. Payloads are copied on the way in and out.
type Store struct {
	mu     sync.RWMutex
	snaps  []snapshot.Snapshot // oldest first
	retain int
}

// NewStore returns an empty store keeping at most retain snapshots.
func NewStore(retain int) *Store {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Store{retain: retain}
}

func (s *Store) Save(_ context.Context, snap snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.Payload = append([]byte(nil), snap.Payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snaps {
		if s.snaps[i].ID == snap.ID {
			s.snaps = append(s.snaps[:i], s.snaps[i+1:]...)
			break
		}
	}
	s.snaps = append(s.snaps, snap)
	sort.SliceStable(s.snaps, func(i, j int) bool { return s.snaps[i].LoadedAt.Before(s.snaps[j].LoadedAt) })
	if extra := len(s.snaps) - s.retain; extra > 0 {
		s.snaps = append([]snapshot.Snapshot(nil), s.snaps[extra:]...)
	}
	return nil
}

func (s *Store) Latest(_ context.Context) (snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snaps) == 0 {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	latest := s.snaps[len(s.snaps)-1]
	latest.Payload = append([]byte(nil), latest.Payload...)
	return latest, nil
}

func (s *Store) History(_ context.Context, limit int) ([]snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]snapshot.Snapshot, 0, len(s.snaps))
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		meta := s.snaps[i]
		meta.Payload = nil
		out = append(out, meta)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
