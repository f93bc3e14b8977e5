// Package storage defines the durable backend port for the memory store,
// along with the row projections the maintenance engines consume.
//
// Backends (SQLite, PostgreSQL, MySQL) must satisfy the Store interface.
// Writes are durable before a call returns success; per-id mutation is
// serialized by the database's row-level locking, never by a global lock.
package storage

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
)

// DecayState is the minimal per-row projection the decay engine works on.
type DecayState struct {
	// ID identifies the memory.
	ID int64

	// Importance is the current importance score.
	Importance float64

	// LastAccessedAt is when the memory was last accessed.
	LastAccessedAt time.Time

	// LastDecayedAt is when a decay pass last touched the row, nil if never.
	LastDecayedAt *time.Time
}

// DecayAnchor returns the instant elapsed time is measured from: the later
// of last access and last decay, so consecutive passes compose instead of
// double-counting the same period.
func (s *DecayState) DecayAnchor() time.Time {
	if s.LastDecayedAt != nil && s.LastDecayedAt.After(s.LastAccessedAt) {
		return *s.LastDecayedAt
	}
	return s.LastAccessedAt
}

// Store is the repository port every backend implements.
//
// Error contract (see pkg/memory): unknown ids are (nil, nil) for Get and
// (false, nil) for Delete, memory.ErrNotFound for Update, RecordAccess and
// SetImportance; owner changes on Update are memory.ErrConflict; driver
// failures are memory.ErrInternal. Input validation (importance range,
// required owner) is the service layer's job, not the backend's.
type Store interface {
	// Insert persists a new memory. The id must already be assigned;
	// inserting an existing id fails with memory.ErrConflict.
	Insert(ctx context.Context, m *memory.Memory) error

	// Get returns the memory, or (nil, nil) when absent.
	Get(ctx context.Context, id int64) (*memory.Memory, error)

	// Update replaces the stored row by id. The owner cannot change:
	// an update carrying a different user_id fails with memory.ErrConflict.
	Update(ctx context.Context, m *memory.Memory) error

	// Delete removes the row. Returns whether a row was actually removed;
	// deleting an absent id is (false, nil), not an error.
	Delete(ctx context.Context, id int64) (bool, error)

	// List returns memories matching the query. Ordering is importance
	// descending then recency, and is informational only; callers needing
	// semantic ranking use the search engine.
	List(ctx context.Context, q *memory.MemoryQuery) ([]*memory.Memory, error)

	// ListEmbedded returns the user's memories that carry an embedding.
	// This is the scan the similarity engines rank over.
	ListEmbedded(ctx context.Context, userID string) ([]*memory.Memory, error)

	// RecordAccess atomically increments access_count and sets
	// last_accessed_at to now, in a single row-level statement so it can
	// never interleave with a concurrent Update into a lost update.
	RecordAccess(ctx context.Context, id int64) error

	// DecayStates returns the decay projection for every memory, all users.
	DecayStates(ctx context.Context) ([]DecayState, error)

	// SetImportance writes a new importance and stamps the decay anchor for
	// one row. Each call is atomic on its own, so a cancelled batch leaves
	// processed rows durable and untouched rows unchanged.
	SetImportance(ctx context.Context, id int64, importance float64, decayedAt time.Time) error

	// DeleteBelowImportance evicts every memory (any user) with
	// importance < threshold and returns the count removed.
	DeleteBelowImportance(ctx context.Context, threshold float64) (int, error)

	// Stats computes the read-only rollup for one user in a single scan.
	Stats(ctx context.Context, userID string) (*memory.MemoryStats, error)

	// Close releases the backend's resources.
	Close() error
}
