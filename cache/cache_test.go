package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/membroker/types"
)

func newTestEntry(t *testing.T, category types.MemoryCategory, content map[string]any, owner string, importance float64, at time.Time) *types.MemoryEntry {
	t.Helper()
	e, err := types.NewEntryAt(category, content, owner, importance, nil, at)
	require.NoError(t, err)
	return e
}

func TestIndex_PutGet(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{}, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEntry(t, types.CategoryAgentCommunication, map[string]any{"text": "hi"}, "agent-1", 0.5, now)

	idx.Put(e)
	got, ok := idx.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Content, got.Content)

	_, ok = idx.Get("absent")
	assert.False(t, ok)

	stats := idx.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestIndex_CopiesAreDefensive(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{}, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := newTestEntry(t, types.CategoryAgentCommunication, map[string]any{"text": "hi"}, "agent-1", 0.5, now)

	idx.Put(e)
	e.Content["text"] = "mutated after put"

	got, ok := idx.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content["text"])

	got.Content["text"] = "mutated after get"
	again, ok := idx.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, "hi", again.Content["text"])
}

func TestIndex_GetDropsExpired(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx := NewIndex(Config{Now: func() time.Time { return current }}, nil)

	// system-state at importance 0 lives 14 days.
	e := newTestEntry(t, types.CategorySystemState, map[string]any{"s": "v"}, "agent-1", 0.0, current)
	idx.Put(e)

	got, ok := idx.Get(e.ID)
	require.True(t, ok)
	require.Equal(t, e.ID, got.ID)

	current = current.Add(15 * 24 * time.Hour)
	_, ok = idx.Get(e.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, uint64(1), idx.Stats().Expirations)
}

func TestIndex_LookupByQuery(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{}, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	low := newTestEntry(t, types.CategoryLearningData, map[string]any{"msg": "minor note"}, "agent-1", 0.2, base)
	high := newTestEntry(t, types.CategoryLearningData, map[string]any{"msg": "major insight"}, "agent-1", 0.9, base.Add(-time.Hour))
	mid := newTestEntry(t, types.CategoryLearningData, map[string]any{"msg": "routine"}, "agent-2", 0.5, base)
	other := newTestEntry(t, types.CategorySystemState, map[string]any{"msg": "state"}, "agent-1", 0.9, base)
	for _, e := range []*types.MemoryEntry{low, high, mid, other} {
		idx.Put(e)
	}

	q := types.NewQuery(types.CategoryLearningData)
	results := idx.LookupByQuery(q)
	require.Len(t, results, 3)
	// Importance descending.
	assert.Equal(t, high.ID, results[0].ID)
	assert.Equal(t, mid.ID, results[1].ID)
	assert.Equal(t, low.ID, results[2].ID)

	q.Owner = "agent-1"
	q.MinImportance = 0.5
	results = idx.LookupByQuery(q)
	require.Len(t, results, 1)
	assert.Equal(t, high.ID, results[0].ID)

	q = types.NewQuery(types.CategoryLearningData)
	q.Limit = 2
	assert.Len(t, idx.LookupByQuery(q), 2)
}

func TestIndex_LookupSkipsExpired(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx := NewIndex(Config{Now: func() time.Time { return current }}, nil)

	e := newTestEntry(t, types.CategorySystemState, map[string]any{"s": "v"}, "agent-1", 0.0, current)
	idx.Put(e)

	current = current.Add(15 * 24 * time.Hour)
	assert.Empty(t, idx.LookupByQuery(types.NewQuery(types.CategorySystemState)))
}

func TestIndex_EvictsOldestOverCapacity(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{Capacity: 3}, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		e := newTestEntry(t, types.CategoryAgentCommunication, map[string]any{"n": i}, "agent-1", 0.5, base.Add(time.Duration(i)*time.Minute))
		idx.Put(e)
		ids = append(ids, e.ID)
	}

	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, uint64(2), idx.Stats().Evictions)

	// The two oldest are gone, the three newest remain.
	for _, id := range ids[:2] {
		_, ok := idx.Get(id)
		assert.False(t, ok)
	}
	for _, id := range ids[2:] {
		_, ok := idx.Get(id)
		assert.True(t, ok)
	}

	// The write path already enforced the cap, so the maintenance-time
	// sweep finds nothing left to evict.
	assert.Equal(t, 0, idx.EvictOverCap())
	assert.Equal(t, 3, idx.Len())
}

func TestIndex_SweepExpired(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx := NewIndex(Config{Now: func() time.Time { return current }}, nil)

	// 14-day retention.
	stale := newTestEntry(t, types.CategorySystemState, map[string]any{"s": "old"}, "agent-1", 0.0, current)
	// 365-day base stretched by importance.
	fresh := newTestEntry(t, types.CategoryKnowledgeFragments, map[string]any{"f": "keep"}, "agent-1", 0.9, current)
	idx.Put(stale)
	idx.Put(fresh)

	current = current.Add(20 * 24 * time.Hour)
	dropped := idx.SweepExpired()
	require.Len(t, dropped, 1)
	assert.Equal(t, stale.ID, dropped[0])
	assert.Equal(t, 1, idx.Len())

	_, ok := idx.Get(fresh.ID)
	assert.True(t, ok)
}

func TestIndex_Clear(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{}, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.Put(newTestEntry(t, types.CategoryAgentCommunication, map[string]any{"a": 1}, "agent-1", 0.5, now))

	idx.Clear()
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	idx := NewIndex(Config{Capacity: 64}, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e, err := types.NewEntryAt(
					types.CategoryAgentCommunication,
					map[string]any{"g": g, "i": i},
					fmt.Sprintf("agent-%d", g),
					0.5,
					nil,
					base.Add(time.Duration(g*50+i)*time.Second),
				)
				if err != nil {
					t.Error(err)
					return
				}
				idx.Put(e)
				idx.Get(e.ID)
				idx.LookupByQuery(types.NewQuery(types.CategoryAgentCommunication))
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, idx.Len(), 64)
}

func TestStats_HitRate(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Stats{}.HitRate())
	assert.InDelta(t, 0.75, Stats{Hits: 3, Misses: 1}.HitRate(), 1e-9)
}
