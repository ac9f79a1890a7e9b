package backend

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/membroker/types"
)

func setupTabularStore(t *testing.T) *TabularStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// A shared in-memory database needs a single connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := DefaultAnalyticalConfig()
	store := NewTabularStoreWithDB(db, cfg, nil)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTabularStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	meta := map[string]string{"source": "trainer"}
	e, err := types.NewEntryAt(types.CategoryLearningData, map[string]any{"lesson": "backoff", "tries": 3}, "agent-1", 0.7, meta, now)
	require.NoError(t, err)

	id, err := store.Put(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, types.CategoryLearningData, got.Category)
	assert.Equal(t, "agent-1", got.Owner)
	assert.InDelta(t, 0.7, got.Importance, 1e-9)
	assert.Equal(t, "backoff", got.Content["lesson"])
	assert.EqualValues(t, 3, got.Content["tries"])
	assert.Equal(t, "trainer", got.Metadata["source"])
	assert.Equal(t, e.RetentionDuration, got.RetentionDuration)
}

func TestTabularStore_PutUpsertsOnDuplicateID(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e, err := types.NewEntryAt(types.CategoryLearningData, map[string]any{"lesson": "retry"}, "agent-1", 0.5, nil, now)
	require.NoError(t, err)

	_, err = store.Put(ctx, e)
	require.NoError(t, err)

	e.AccessCount = 7
	_, err = store.Put(ctx, e)
	require.NoError(t, err)

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.AccessCount)

	var count int64
	require.NoError(t, store.db.Table(tableFor(types.CategoryLearningData)).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTabularStore_GetMissing(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)

	_, err := store.Get(context.Background(), "learning-data_20260301_100000_deadbeef")
	require.ErrorIs(t, err, ErrNotFound)

	// An id with no category prefix scans all tables and still misses.
	_, err = store.Get(context.Background(), "opaque-id-without-prefix")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTabularStore_SearchFilters(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seed := []struct {
		content    map[string]any
		owner      string
		importance float64
		at         time.Time
	}{
		{map[string]any{"msg": "gradient exploded"}, "agent-1", 0.9, base},
		{map[string]any{"msg": "Gradient clipped"}, "agent-1", 0.4, base.Add(-time.Hour)},
		{map[string]any{"msg": "checkpoint saved"}, "agent-1", 0.8, base.Add(-2 * time.Hour)},
		{map[string]any{"msg": "gradient fine"}, "agent-2", 0.8, base},
	}
	for _, s := range seed {
		e, err := types.NewEntryAt(types.CategoryLearningData, s.content, s.owner, s.importance, nil, s.at)
		require.NoError(t, err)
		_, err = store.Put(ctx, e)
		require.NoError(t, err)
	}

	q := types.NewQuery(types.CategoryLearningData)
	q.Owner = "agent-1"
	q.ContentSubstring = "gradient"
	q.MinImportance = 0.5

	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agent-1", results[0].Owner)
	assert.InDelta(t, 0.9, results[0].Importance, 1e-9)
}

func TestTabularStore_SearchTimeRange(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := types.NewEntryAt(types.CategoryEvolutionHistory, map[string]any{"gen": i}, "agent-1", 0.5, nil, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		_, err = store.Put(ctx, e)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	start := base.Add(30 * time.Minute)
	end := base.Add(90 * time.Minute)
	q := types.NewQuery(types.CategoryEvolutionHistory)
	q.TimeRange = &types.TimeRange{Start: &start, End: &end}

	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[1], results[0].ID)
}

func TestTabularStore_SearchAcrossCategories(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	learn, err := types.NewEntryAt(types.CategoryLearningData, map[string]any{"k": "l"}, "agent-1", 0.9, nil, base)
	require.NoError(t, err)
	evo, err := types.NewEntryAt(types.CategoryEvolutionHistory, map[string]any{"k": "e"}, "agent-1", 0.4, nil, base)
	require.NoError(t, err)
	for _, e := range []*types.MemoryEntry{learn, evo} {
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	q := types.NewQuery(types.CategoryLearningData, types.CategoryEvolutionHistory)
	results, err := store.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Merged across tables, importance descending.
	assert.Equal(t, learn.ID, results[0].ID)
	assert.Equal(t, evo.ID, results[1].ID)
}

func TestTabularStore_SearchOrderingTieBreak(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	older, err := types.NewEntryAt(types.CategoryCollectiveIntelligence, map[string]any{"v": "old"}, "agent-1", 0.5, nil, base.Add(-time.Hour))
	require.NoError(t, err)
	newer, err := types.NewEntryAt(types.CategoryCollectiveIntelligence, map[string]any{"v": "new"}, "agent-1", 0.5, nil, base)
	require.NoError(t, err)
	for _, e := range []*types.MemoryEntry{older, newer} {
		_, err := store.Put(ctx, e)
		require.NoError(t, err)
	}

	results, err := store.Search(ctx, types.NewQuery(types.CategoryCollectiveIntelligence))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].ID)
	assert.Equal(t, older.ID, results[1].ID)
}

func TestTabularStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	e, err := types.NewEntryAt(types.CategoryKnowledgeFragments, map[string]any{"fact": "x"}, "agent-1", 0.6, nil, now)
	require.NoError(t, err)
	_, err = store.Put(ctx, e)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, e.ID))
	_, err = store.Get(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, e.ID))
}

func TestTabularStore_HealthCheck(t *testing.T) {
	t.Parallel()

	store := setupTabularStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))
}
