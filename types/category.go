package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryCategory classifies the purpose of a memory entry. The set is closed:
// the routing table and the retention table are keyed on these values, so
// adding a category means extending the tables here, not scattering
// conditionals.
type MemoryCategory string

const (
	// CategoryAgentCommunication holds inter-agent messages.
	CategoryAgentCommunication MemoryCategory = "agent-communication"

	// CategoryLearningData holds training samples and learned outcomes.
	CategoryLearningData MemoryCategory = "learning-data"

	// CategoryUserInteraction holds user-facing conversation turns.
	CategoryUserInteraction MemoryCategory = "user-interaction"

	// CategorySystemState holds component state snapshots.
	CategorySystemState MemoryCategory = "system-state"

	// CategoryPerformanceMetrics holds recorded performance observations.
	CategoryPerformanceMetrics MemoryCategory = "performance-metrics"

	// CategoryKnowledgeFragments holds distilled domain knowledge.
	CategoryKnowledgeFragments MemoryCategory = "knowledge-fragments"

	// CategoryEvolutionHistory holds agent lineage and breeding events.
	CategoryEvolutionHistory MemoryCategory = "evolution-history"

	// CategoryCollectiveIntelligence holds cross-agent consensus insights.
	CategoryCollectiveIntelligence MemoryCategory = "collective-intelligence"
)

// baseRetention is the per-category base lifespan. The effective retention of
// an entry scales this by importance, see RetentionFor.
var baseRetention = map[MemoryCategory]time.Duration{
	CategoryAgentCommunication:     30 * 24 * time.Hour,
	CategoryLearningData:           90 * 24 * time.Hour,
	CategoryUserInteraction:        180 * 24 * time.Hour,
	CategorySystemState:            14 * 24 * time.Hour,
	CategoryPerformanceMetrics:     60 * 24 * time.Hour,
	CategoryKnowledgeFragments:     365 * 24 * time.Hour,
	CategoryEvolutionHistory:       365 * 24 * time.Hour,
	CategoryCollectiveIntelligence: 180 * 24 * time.Hour,
}

// defaultBaseRetention applies when a category is missing from the table.
const defaultBaseRetention = 90 * 24 * time.Hour

// AllCategories returns every category in declaration order.
func AllCategories() []MemoryCategory {
	return []MemoryCategory{
		CategoryAgentCommunication,
		CategoryLearningData,
		CategoryUserInteraction,
		CategorySystemState,
		CategoryPerformanceMetrics,
		CategoryKnowledgeFragments,
		CategoryEvolutionHistory,
		CategoryCollectiveIntelligence,
	}
}

// ParseCategory validates a wire-form category string. Underscored forms are
// accepted for compatibility with older producers and normalized to the
// canonical kebab-case value.
func ParseCategory(s string) (MemoryCategory, error) {
	c := MemoryCategory(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if !c.Valid() {
		return "", NewError(ErrCodeValidation, fmt.Sprintf("unknown memory category %q", s))
	}
	return c, nil
}

// Valid reports whether c is one of the closed category values.
func (c MemoryCategory) Valid() bool {
	_, ok := baseRetention[c]
	return ok
}

// String implements fmt.Stringer.
func (c MemoryCategory) String() string { return string(c) }

// Slug returns the underscored form used for storage-side naming
// (table and collection names are derived as "memory_" + Slug()).
func (c MemoryCategory) Slug() string {
	return strings.ReplaceAll(string(c), "-", "_")
}

// BaseRetention returns the category's base lifespan.
func (c MemoryCategory) BaseRetention() time.Duration {
	if d, ok := baseRetention[c]; ok {
		return d
	}
	return defaultBaseRetention
}

// RetentionFor computes the effective retention for an entry of the given
// category and (already clamped) importance: base * (1 + importance*2),
// i.e. one to three times the base. The result is fixed at entry
// construction and never recomputed.
func RetentionFor(c MemoryCategory, importance float64) time.Duration {
	return time.Duration(float64(c.BaseRetention()) * (1 + importance*2))
}
