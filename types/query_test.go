package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestQuery_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *MemoryQuery {
		return &MemoryQuery{Limit: 10}
	}

	cases := []struct {
		name    string
		mutate  func(*MemoryQuery)
		wantErr bool
	}{
		{"default is valid", func(q *MemoryQuery) {}, false},
		{"zero limit", func(q *MemoryQuery) { q.Limit = 0 }, true},
		{"negative limit", func(q *MemoryQuery) { q.Limit = -5 }, true},
		{"limit above ceiling", func(q *MemoryQuery) { q.Limit = 5000 }, true},
		{"limit at ceiling", func(q *MemoryQuery) { q.Limit = QueryLimitCeiling }, false},
		{"unknown category", func(q *MemoryQuery) { q.Categories = []MemoryCategory{"nope"} }, true},
		{"inverted time range", func(q *MemoryQuery) {
			q.TimeRange = &TimeRange{Start: timePtr(time.Unix(200, 0)), End: timePtr(time.Unix(100, 0))}
		}, true},
		{"well-formed time range", func(q *MemoryQuery) {
			q.TimeRange = &TimeRange{Start: timePtr(time.Unix(100, 0)), End: timePtr(time.Unix(200, 0))}
		}, false},
		{"half-open time range", func(q *MemoryQuery) {
			q.TimeRange = &TimeRange{Start: timePtr(time.Unix(100, 0))}
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := valid()
			tc.mutate(q)
			err := q.Validate()
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, IsValidation(err), "expected a validation error, got %v", err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestQuery_ValidateNil(t *testing.T) {
	t.Parallel()

	var q *MemoryQuery
	err := q.Validate()
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestNewQuery_Defaults(t *testing.T) {
	t.Parallel()

	q := NewQuery()
	require.Equal(t, DefaultQueryLimit, q.Limit)
	require.NoError(t, q.Validate())
	require.Empty(t, q.Categories)
}

func TestQuery_Matches(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	entry, err := NewEntryAt(CategoryLearningData,
		map[string]any{"topic": "Routing", "score": 3}, "agent-1", 0.6, nil, created)
	require.NoError(t, err)

	cases := []struct {
		name  string
		query MemoryQuery
		want  bool
	}{
		{"empty query matches all", MemoryQuery{Limit: 10}, true},
		{"matching category", MemoryQuery{Limit: 10, Categories: []MemoryCategory{CategoryLearningData}}, true},
		{"other category", MemoryQuery{Limit: 10, Categories: []MemoryCategory{CategorySystemState}}, false},
		{"matching owner", MemoryQuery{Limit: 10, Owner: "agent-1"}, true},
		{"other owner", MemoryQuery{Limit: 10, Owner: "agent-2"}, false},
		{"importance at threshold", MemoryQuery{Limit: 10, MinImportance: 0.6}, true},
		{"importance above threshold", MemoryQuery{Limit: 10, MinImportance: 0.7}, false},
		{"substring case-insensitive", MemoryQuery{Limit: 10, ContentSubstring: "routing"}, true},
		{"substring absent", MemoryQuery{Limit: 10, ContentSubstring: "parsing"}, false},
		{"range containing creation", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			Start: timePtr(created.Add(-time.Hour)), End: timePtr(created.Add(time.Hour))}}, true},
		{"range start at creation is inclusive", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			Start: timePtr(created), End: timePtr(created.Add(time.Hour))}}, true},
		{"range end at creation is inclusive", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			Start: timePtr(created.Add(-time.Hour)), End: timePtr(created)}}, true},
		{"range before creation", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			Start: timePtr(created.Add(-2 * time.Hour)), End: timePtr(created.Add(-time.Hour))}}, false},
		{"open start matches", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			End: timePtr(created)}}, true},
		{"open end excludes earlier cutoff", MemoryQuery{Limit: 10, TimeRange: &TimeRange{
			Start: timePtr(created.Add(time.Minute))}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.query.Matches(entry))
		})
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	c, err := ParseCategory("learning-data")
	require.NoError(t, err)
	require.Equal(t, CategoryLearningData, c)

	// Underscored producers are normalized.
	c, err = ParseCategory("agent_communication")
	require.NoError(t, err)
	require.Equal(t, CategoryAgentCommunication, c)

	_, err = ParseCategory("telepathy")
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestCategory_Slug(t *testing.T) {
	t.Parallel()

	require.Equal(t, "agent_communication", CategoryAgentCommunication.Slug())
	require.Equal(t, "knowledge_fragments", CategoryKnowledgeFragments.Slug())
	require.Len(t, AllCategories(), 8)
}
