package types

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"math"
	"time"
)

// MemoryEntry is a persisted memory record. Entries are created only by a
// store operation and are never updated in place afterwards; the single
// exception is the access bookkeeping (AccessCount, LastAccessedAt) mutated
// as a side effect of a successful retrieval.
type MemoryEntry struct {
	ID                string            `json:"id"`
	Category          MemoryCategory    `json:"category"`
	Owner             string            `json:"owner,omitempty"`
	Content           map[string]any    `json:"content"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	Importance        float64           `json:"importance"`
	AccessCount       int               `json:"access_count"`
	LastAccessedAt    *time.Time        `json:"last_accessed_at,omitempty"`
	RetentionDuration time.Duration     `json:"retention_duration"`
}

// NewEntry constructs a validated entry stamped with the current UTC time.
func NewEntry(category MemoryCategory, content map[string]any, owner string, importance float64, metadata map[string]string) (*MemoryEntry, error) {
	return NewEntryAt(category, content, owner, importance, metadata, time.Now())
}

// NewEntryAt is NewEntry with an explicit creation time, for callers that
// inject their own clock. Importance is clamped into [0, 1];
// RetentionDuration is derived from the category table and the clamped
// importance and is immutable from this point on.
func NewEntryAt(category MemoryCategory, content map[string]any, owner string, importance float64, metadata map[string]string, now time.Time) (*MemoryEntry, error) {
	if !category.Valid() {
		return nil, NewError(ErrCodeValidation, "unknown memory category "+string(category))
	}
	if content == nil {
		return nil, NewError(ErrCodeValidation, "content must not be nil")
	}
	blob, err := json.Marshal(content)
	if err != nil {
		return nil, NewError(ErrCodeSerialization, "content is not encodable to the backend exchange format").WithCause(err)
	}

	importance = ClampImportance(importance)
	now = now.UTC()
	return &MemoryEntry{
		ID:                deriveID(category, blob, now, owner),
		Category:          category,
		Owner:             owner,
		Content:           content,
		Metadata:          metadata,
		CreatedAt:         now,
		Importance:        importance,
		RetentionDuration: RetentionFor(category, importance),
	}, nil
}

// ClampImportance forces v into [0, 1]. NaN clamps to 0.
func ClampImportance(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// deriveID builds the deterministic entry id:
//
//	<category>_<YYYYMMDD_HHMMSS>_<hex8>[_<owner>]
//
// where hex8 is the first 8 hex chars of the MD5 of the canonical content
// serialization (encoding/json emits map keys in sorted order, so equal
// content hashes equally). MD5 is an addressing scheme here, not an
// integrity check. Re-deriving the id from the same logical write is
// traceable; ids are intentionally not random.
func deriveID(category MemoryCategory, canonicalContent []byte, now time.Time, owner string) string {
	sum := md5.Sum(canonicalContent)
	id := string(category) + "_" + now.UTC().Format("20060102_150405") + "_" + hex.EncodeToString(sum[:4])
	if owner != "" {
		id += "_" + owner
	}
	return id
}

// ContentJSON returns the canonical serialized form of Content, the same
// bytes the id hash and the substring filter operate on.
func (e *MemoryEntry) ContentJSON() ([]byte, error) {
	return json.Marshal(e.Content)
}

// ExpiresAt returns the instant the entry becomes eligible for deletion.
func (e *MemoryEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.RetentionDuration)
}

// Expired reports whether the entry is past its retention at the given time.
func (e *MemoryEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Touch records one successful retrieval of the entry. Callers are expected
// to hold whatever lock guards the entry.
func (e *MemoryEntry) Touch(now time.Time) {
	e.AccessCount++
	t := now.UTC()
	e.LastAccessedAt = &t
}

// Clone returns a copy with its own Content and Metadata maps, so callers
// can hand entries across ownership boundaries without aliasing.
func (e *MemoryEntry) Clone() *MemoryEntry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Content != nil {
		cp.Content = make(map[string]any, len(e.Content))
		for k, v := range e.Content {
			cp.Content[k] = v
		}
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	return &cp
}
