package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/membroker/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Role is the routing role an adapter serves.
type Role string

const (
	// RoleFast marks the low-latency content-addressed store.
	RoleFast Role = "fast"

	// RoleAnalytical marks the durable query-rich store.
	RoleAnalytical Role = "analytical"
)

// Adapter is the single capability interface every storage backend
// implements. Implementations must be safe for concurrent use; the network
// calls honor ctx cancellation and never block other in-flight operations.
type Adapter interface {
	// Name returns a stable label used in logs, metrics, and telemetry.
	Name() string

	// Role returns the routing role this adapter serves.
	Role() Role

	// Put persists the entry and returns the id it is reachable under.
	Put(ctx context.Context, e *types.MemoryEntry) (string, error)

	// Get returns the entry stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*types.MemoryEntry, error)

	// Search returns entries matching the query, up to its limit.
	Search(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error)

	// Delete removes the entry. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// HealthCheck probes the underlying store.
	HealthCheck(ctx context.Context) error

	// Close releases client resources.
	Close() error
}

// CategoryFromID recovers the category a deterministic entry id was derived
// from. Ids have the form <category>_<YYYYMMDD_HHMMSS>_<hex8>[_<owner>]
// and category values never contain underscores, so the prefix before the
// first underscore is the category.
func CategoryFromID(id string) (types.MemoryCategory, bool) {
	i := strings.IndexByte(id, '_')
	if i <= 0 {
		return "", false
	}
	c := types.MemoryCategory(id[:i])
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// tableFor derives the storage-side name for a category. Both SQL tables
// and Mongo collections share the scheme.
func tableFor(c types.MemoryCategory) string {
	return "memory_" + c.Slug()
}
