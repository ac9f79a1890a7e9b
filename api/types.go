package api

import (
	"github.com/BaSui01/membroker/types"
)

// StoreMemoryRequest is the body of POST /api/v1/memory.
// @Description Request to store a memory entry.
type StoreMemoryRequest struct {
	// Memory category deciding placement and retention.
	Category types.MemoryCategory `json:"category" example:"user-interaction"`
	// Structured payload. Must not be empty.
	Content map[string]any `json:"content"`
	// Owning agent id. Optional.
	Owner string `json:"owner,omitempty" example:"agent-7"`
	// Importance in [0, 1]. Values outside the range are clamped.
	Importance float64 `json:"importance" example:"0.8"`
	// Free-form labels stored alongside the entry.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryMemoryRequest is the body of POST /api/v1/memory/query. The broker's
// query type is already the wire format, so the API reuses it directly.
type QueryMemoryRequest = types.MemoryQuery

// UpdateConfigRequest is the body of PUT /api/v1/config. Path addresses a
// registered hot-reloadable field, for example "Log.Level".
// @Description Request to change one configuration field at runtime.
type UpdateConfigRequest struct {
	Path  string `json:"path" example:"Log.Level"`
	Value any    `json:"value"`
}

// RollbackConfigRequest is the body of POST /api/v1/config/rollback.
// A zero Version rolls back to the previous snapshot.
// @Description Request to restore an earlier configuration version.
type RollbackConfigRequest struct {
	Version int `json:"version,omitempty" example:"3"`
}
