package types

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultQueryLimit applies when a caller does not pick a limit.
	DefaultQueryLimit = 100

	// QueryLimitCeiling is the hard upper bound on a query limit. Values
	// above it are a validation error, never silently clamped.
	QueryLimitCeiling = 1000
)

// TimeRange is an inclusive [Start, End] filter on entry creation time.
// A nil bound leaves that side open.
type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// MemoryQuery is a retrieval filter. The zero value is not valid; use
// NewQuery or set Limit explicitly before Validate.
type MemoryQuery struct {
	// Categories restricts matching to the listed categories.
	// Empty means all categories.
	Categories []MemoryCategory `json:"categories,omitempty"`

	// Owner restricts matching to entries stored under one agent id.
	Owner string `json:"owner,omitempty"`

	// TimeRange restricts matching to entries created inside the range.
	TimeRange *TimeRange `json:"time_range,omitempty"`

	// ContentSubstring is a case-insensitive filter applied to the
	// serialized form of the entry content.
	ContentSubstring string `json:"content_substring,omitempty"`

	// MinImportance excludes entries with importance strictly below it.
	MinImportance float64 `json:"min_importance,omitempty"`

	// Limit caps the result count. Must be in (0, QueryLimitCeiling].
	Limit int `json:"limit,omitempty"`
}

// NewQuery returns a query over the given categories with the default
// limit. No categories means all categories.
func NewQuery(categories ...MemoryCategory) *MemoryQuery {
	return &MemoryQuery{Categories: categories, Limit: DefaultQueryLimit}
}

// Validate rejects malformed queries before any backend is touched.
func (q *MemoryQuery) Validate() error {
	if q == nil {
		return NewError(ErrCodeValidation, "query must not be nil")
	}
	if q.Limit <= 0 {
		return NewError(ErrCodeValidation, fmt.Sprintf("query limit must be positive, got %d", q.Limit))
	}
	if q.Limit > QueryLimitCeiling {
		return NewError(ErrCodeValidation, fmt.Sprintf("query limit %d exceeds ceiling %d", q.Limit, QueryLimitCeiling))
	}
	for _, c := range q.Categories {
		if !c.Valid() {
			return NewError(ErrCodeValidation, fmt.Sprintf("unknown memory category %q", c))
		}
	}
	if q.TimeRange != nil && q.TimeRange.Start != nil && q.TimeRange.End != nil &&
		q.TimeRange.Start.After(*q.TimeRange.End) {
		return NewError(ErrCodeValidation, "time range start is after end")
	}
	return nil
}

// Matches is the single filter predicate shared by the cache scan and the
// backend full-scan fallbacks, so every read path agrees on what a query
// selects.
func (q *MemoryQuery) Matches(e *MemoryEntry) bool {
	if e == nil {
		return false
	}
	if len(q.Categories) > 0 && !q.hasCategory(e.Category) {
		return false
	}
	if q.Owner != "" && e.Owner != q.Owner {
		return false
	}
	if !q.TimeRange.Contains(e.CreatedAt) {
		return false
	}
	if e.Importance < q.MinImportance {
		return false
	}
	if q.ContentSubstring != "" {
		blob, err := e.ContentJSON()
		if err != nil {
			return false
		}
		if !strings.Contains(strings.ToLower(string(blob)), strings.ToLower(q.ContentSubstring)) {
			return false
		}
	}
	return true
}

func (q *MemoryQuery) hasCategory(c MemoryCategory) bool {
	for _, qc := range q.Categories {
		if qc == c {
			return true
		}
	}
	return false
}
