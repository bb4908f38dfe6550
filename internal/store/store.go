// Package store persists timer records so the registry can be rehydrated
// after a restart. The in-memory engine does not depend on it for
// correctness; saves are best effort and happen outside the timer lock.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/blitztime/server/internal/auth"
	"github.com/blitztime/server/internal/timer"
)

// Record is one timer's durable state: its public snapshot plus the issued
// credentials needed to resolve tokens after a restart.
type Record struct {
	Snapshot    timer.Snapshot   `json:"snapshot"`
	Credentials auth.Credentials `json:"credentials"`
}

// Store is the durable keyed snapshot store.
type Store interface {
	// Save upserts a record keyed by its timer ID.
	Save(ctx context.Context, rec Record) error
	// Load returns the record for a timer, or timer.ErrNotFound.
	Load(ctx context.Context, id uuid.UUID) (Record, error)
	// LoadAll returns every stored record, for registry rehydration.
	LoadAll(ctx context.Context) ([]Record, error)
	// Close releases the store's resources.
	Close()
}

// NopStore discards all writes and rehydrates nothing.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error { return nil }

func (NopStore) Load(context.Context, uuid.UUID) (Record, error) {
	return Record{}, timer.ErrNotFound
}

func (NopStore) LoadAll(context.Context) ([]Record, error) { return nil, nil }

func (NopStore) Close() {}
