// Package repo provides a storage-agnostic repository contract with
// relational (GORM/Postgres), document (Redis), and in-memory
// implementations, plus typed wrappers for the entities the services use.
package repo

import (
	"context"
	"errors"
)

// DefaultLimit bounds GetMulti result sets when the caller passes limit <= 0.
const DefaultLimit = 100

// ErrDuplicateKey indicates a uniqueness violation on create.
var ErrDuplicateKey = errors.New("duplicate key")

// Filters is an unordered set of equality constraints keyed by snake_case
// field names. Filter keys that do not name a field of the record type are
// ignored by every implementation; this is the single documented policy.
type Filters map[string]any

// Fields holds a partial update keyed the same way as Filters.
type Fields map[string]any

// Repository is the capability contract shared by all storage backends.
// Lookups report absence through the bool return, never through an error;
// errors are reserved for infrastructure failures.
type Repository[T any, ID comparable] interface {
	// Create inserts the record and returns it fully materialized,
	// including any server-assigned id. Fails with ErrDuplicateKey when a
	// uniqueness constraint is violated.
	Create(ctx context.Context, record T) (T, error)
	// Get returns the record with the given primary key.
	Get(ctx context.Context, id ID) (T, bool, error)
	// GetMulti returns records matching all filters, skipping the first
	// skip matches and returning at most limit (DefaultLimit when <= 0).
	GetMulti(ctx context.Context, skip, limit int, filters Filters) ([]T, error)
	// Update applies a partial update and returns the updated record.
	// A missing id yields (zero, false, nil); deleted records are never
	// resurrected.
	Update(ctx context.Context, id ID, fields Fields) (T, bool, error)
	// Delete removes the record, reporting whether anything was removed.
	Delete(ctx context.Context, id ID) (bool, error)
	// Exists reports whether any record matches all filters.
	Exists(ctx context.Context, filters Filters) (bool, error)
	// FilterOne returns one record matching all filters.
	FilterOne(ctx context.Context, filters Filters) (T, bool, error)
}
