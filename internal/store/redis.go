package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curvebank/pool-engine/internal/model"
)

const snapshotKey = "pool:snapshot"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for snapshot loads. Saves go to the primary store and refresh the
// cache; operation-ledger calls pass through uncached (audit reads are rare
// and must not be stale).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	return nil
}

func (s *CachedStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *CachedStore) InsertOperation(ctx context.Context, rec *model.OperationRecord) error {
	return s.primary.InsertOperation(ctx, rec)
}

func (s *CachedStore) ListOperations(ctx context.Context, limit int) ([]model.OperationRecord, error) {
	return s.primary.ListOperations(ctx, limit)
}

func (s *CachedStore) ListOperationsByOwner(ctx context.Context, owner string, limit int) ([]model.OperationRecord, error) {
	return s.primary.ListOperationsByOwner(ctx, owner, limit)
}

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *model.Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey, data, s.ttl)
	}
}
