package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/membroker/types"
)

func setupFastStore(t *testing.T) (*miniredis.Miniredis, *FastStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := DefaultFastConfig()
	cfg.Redis.Addr = mr.Addr()

	store := NewFastStoreWithClient(client, cfg, nil)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func mustEntry(t *testing.T, category types.MemoryCategory, content map[string]any, owner string, importance float64, at time.Time) *types.MemoryEntry {
	t.Helper()
	e, err := types.NewEntryAt(category, content, owner, importance, nil, at)
	require.NoError(t, err)
	return e
}

func TestFastStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e := mustEntry(t, types.CategoryAgentCommunication, map[string]any{"text": "ping", "seq": 1}, "agent-1", 0.6, now)

	id, err := store.Put(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, types.CategoryAgentCommunication, got.Category)
	assert.Equal(t, "agent-1", got.Owner)
	assert.InDelta(t, 0.6, got.Importance, 1e-9)
	// JSON round-trips numbers as float64.
	assert.Equal(t, "ping", got.Content["text"])
	assert.EqualValues(t, 1, got.Content["seq"])
}

func TestFastStore_GetMissing(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)

	_, err := store.Get(context.Background(), "agent-communication_20260301_100000_deadbeef")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFastStore_PutNilEntry(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)

	_, err := store.Put(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestFastStore_SearchByOwner(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, imp := range []float64{0.2, 0.9, 0.5} {
		e := mustEntry(t, types.CategoryAgentCommunication, map[string]any{"seq": i}, "agent-1", imp, base.Add(time.Duration(i)*time.Second))
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}
	other := mustEntry(t, types.CategoryAgentCommunication, map[string]any{"seq": 99}, "agent-2", 0.8, base)
	_, err := store.Put(ctx, other)
	require.NoError(t, err)

	q := types.NewQuery()
	q.Owner = "agent-1"
	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "agent-1", r.Owner)
	}
	// Importance descending.
	assert.InDelta(t, 0.9, results[0].Importance, 1e-9)
	assert.InDelta(t, 0.5, results[1].Importance, 1e-9)
	assert.InDelta(t, 0.2, results[2].Importance, 1e-9)
}

func TestFastStore_SearchByCategory(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	comm := mustEntry(t, types.CategoryAgentCommunication, map[string]any{"k": "a"}, "agent-1", 0.5, base)
	state := mustEntry(t, types.CategorySystemState, map[string]any{"k": "b"}, "agent-1", 0.5, base)
	for _, e := range []*types.MemoryEntry{comm, state} {
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	q := types.NewQuery(types.CategorySystemState)
	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, state.ID, results[0].ID)
}

func TestFastStore_SearchFilters(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	old := mustEntry(t, types.CategoryUserInteraction, map[string]any{"msg": "hello world"}, "agent-1", 0.3, base.Add(-48*time.Hour))
	recent := mustEntry(t, types.CategoryUserInteraction, map[string]any{"msg": "Hello Again"}, "agent-1", 0.8, base)
	noise := mustEntry(t, types.CategoryUserInteraction, map[string]any{"msg": "unrelated"}, "agent-1", 0.9, base)
	for _, e := range []*types.MemoryEntry{old, recent, noise} {
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	start := base.Add(-time.Hour)
	q := types.NewQuery(types.CategoryUserInteraction)
	q.TimeRange = &types.TimeRange{Start: &start}
	q.ContentSubstring = "hello"
	q.MinImportance = 0.5

	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, recent.ID, results[0].ID)
}

func TestFastStore_SearchLimit(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		e := mustEntry(t, types.CategoryPerformanceMetrics, map[string]any{"n": i}, "agent-1", float64(i)/10, base.Add(time.Duration(i)*time.Second))
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	q := types.NewQuery(types.CategoryPerformanceMetrics)
	q.Limit = 3
	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.InDelta(t, 0.9, results[0].Importance, 1e-9)
}

func TestFastStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	_, store := setupFastStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e := mustEntry(t, types.CategorySystemState, map[string]any{"state": "ready"}, "agent-1", 0.5, now)
	_, err := store.Put(ctx, e)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, e.ID))
	_, err = store.Get(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Index entries are cleaned up alongside the blob.
	results, err := store.Search(ctx, types.NewQuery(types.CategorySystemState))
	require.NoError(t, err)
	assert.Empty(t, results)

	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, e.ID))
}

func TestFastStore_ExpiredEntryDropsFromSearch(t *testing.T) {
	t.Parallel()

	mr, store := setupFastStore(t)
	ctx := context.Background()

	// system-state at importance 0 retains for 14 days.
	e := mustEntry(t, types.CategorySystemState, map[string]any{"state": "stale"}, "agent-1", 0.0, time.Now().UTC())
	_, err := store.Put(ctx, e)
	require.NoError(t, err)

	mr.FastForward(15 * 24 * time.Hour)

	_, err = store.Get(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// The sorted-set member outlives the blob; search skips the orphan.
	results, err := store.Search(ctx, types.NewQuery(types.CategorySystemState))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFastStore_HealthCheck(t *testing.T) {
	t.Parallel()

	mr, store := setupFastStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))

	mr.Close()
	require.Error(t, store.HealthCheck(context.Background()))
}
