package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. Used for tests and
// local development.
type MemoryStore struct {
	mu        sync.RWMutex
	tracked   []string
	seen      map[string]bool
	snapshots map[string]Snapshot
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:      make(map[string]bool),
		snapshots: make(map[string]Snapshot),
	}
}

func (s *MemoryStore) TrackWallet(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[wallet] {
		return nil
	}
	s.seen[wallet] = true
	s.tracked = append(s.tracked, wallet)
	return nil
}

func (s *MemoryStore) ListTrackedWallets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.tracked))
	copy(out, s.tracked)
	return out, nil
}

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *snap
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.snapshots[snap.Wallet] = stored
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, wallet string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[wallet]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, limit int) ([]Snapshot, error) {
	s.mu.RLock()
	snaps := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].TotalPnL != snaps[j].TotalPnL {
			return snaps[i].TotalPnL > snaps[j].TotalPnL
		}
		return snaps[i].Wallet < snaps[j].Wallet
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
