package store

import (
	"context"
	"sync"

	"github.com/curvebank/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory state. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	snapshot   *model.Snapshot
	operations []model.OperationRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a deep copy to avoid external mutation.
	s.snapshot = copySnapshot(snap)
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return copySnapshot(s.snapshot), nil
}

func (s *MemoryStore) InsertOperation(_ context.Context, rec *model.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.operations = append(s.operations, *rec)
	return nil
}

func (s *MemoryStore) ListOperations(_ context.Context, limit int) ([]model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return tail(s.operations, limit), nil
}

func (s *MemoryStore) ListOperationsByOwner(_ context.Context, owner string, limit int) ([]model.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OperationRecord
	for _, rec := range s.operations {
		if rec.Owner == owner {
			result = append(result, rec)
		}
	}
	return tail(result, limit), nil
}

func tail(recs []model.OperationRecord, limit int) []model.OperationRecord {
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]model.OperationRecord, len(recs))
	copy(out, recs)
	return out
}

func copySnapshot(snap *model.Snapshot) *model.Snapshot {
	cp := *snap
	cp.Positions = make(map[string]model.Position, len(snap.Positions))
	for id, p := range snap.Positions {
		cp.Positions[id] = p
	}
	return &cp
}
