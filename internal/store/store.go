// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The engine's in-memory state is authoritative during a run; the store
// persists write-through snapshots for restart recovery plus an immutable
// operation ledger for audit. A reloaded snapshot must reproduce identical
// quotes.
package store

import (
	"context"
	"errors"

	"github.com/curvebank/pool-engine/internal/model"
)

// ErrNoSnapshot is returned by LoadSnapshot when no snapshot has been saved.
var ErrNoSnapshot = errors.New("store: no snapshot")

// Store is the persistence interface.
type Store interface {
	// SaveSnapshot persists the full engine state, replacing any previous
	// snapshot.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error

	// LoadSnapshot returns the latest snapshot, or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context) (*model.Snapshot, error)

	// InsertOperation appends an immutable operation record.
	InsertOperation(ctx context.Context, rec *model.OperationRecord) error

	// ListOperations returns operation records in commit order, newest last.
	ListOperations(ctx context.Context, limit int) ([]model.OperationRecord, error)

	// ListOperationsByOwner returns one participant's operations in commit order.
	ListOperationsByOwner(ctx context.Context, owner string, limit int) ([]model.OperationRecord, error)
}
