package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/membroker/internal/tlsutil"
	"github.com/BaSui01/membroker/internal/tokens"
	"github.com/BaSui01/membroker/types"
)

// searchOverfetch is how many candidate ids beyond the query limit the fast
// store pulls from its indexes before post-filtering. The indexes only know
// recency, so some candidates will fail the full predicate.
const searchOverfetch = 4

// FastStore is the Redis-backed fast adapter: content-addressed entry blobs
// scoped by owner, sub-100ms class latency, best-effort analytics. Entries
// are stored as opaque JSON envelopes with sorted-set indexes per owner and
// per category; blobs carry a redis TTL mirroring the entry retention.
type FastStore struct {
	client    *redis.Client
	keyPrefix string
	role      Role
	estimator *tokens.Estimator
	logger    *zap.Logger

	// Now is the clock used for TTL computation. Tests may replace it.
	Now func() time.Time
}

// fastEnvelope is the opaque blob shipped to the fast store. TokenCount
// approximates the content's token footprint so readers can budget prompt
// space without re-tokenizing.
type fastEnvelope struct {
	Entry      *types.MemoryEntry `json:"entry"`
	TokenCount int                `json:"token_count"`
}

// NewFastStore creates a Redis-backed fast adapter and verifies
// connectivity.
func NewFastStore(config Config, logger *zap.Logger) (*FastStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	}
	if config.Redis.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFastStoreWithClient(client, config, logger), nil
}

// NewFastStoreWithClient wraps an existing Redis client. Used by tests to
// point the adapter at miniredis.
func NewFastStoreWithClient(client *redis.Client, config Config, logger *zap.Logger) *FastStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "membroker:"
	}
	role := config.Role
	if role == "" {
		role = RoleFast
	}
	return &FastStore{
		client:    client,
		keyPrefix: keyPrefix,
		role:      role,
		estimator: tokens.NewEstimator(config.Redis.TokenEncoding),
		logger:    logger.With(zap.String("component", "backend.fastmem")),
		Now:       time.Now,
	}
}

// Name implements Adapter.
func (s *FastStore) Name() string { return "fastmem" }

// Role implements Adapter.
func (s *FastStore) Role() Role { return s.role }

// entryKey returns the Redis key for an entry blob.
func (s *FastStore) entryKey(id string) string {
	return s.keyPrefix + "entry:" + id
}

// ownerKey returns the Redis key for an owner's entry index.
func (s *FastStore) ownerKey(owner string) string {
	return s.keyPrefix + "owner:" + owner
}

// categoryKey returns the Redis key for a category's entry index.
func (s *FastStore) categoryKey(c types.MemoryCategory) string {
	return s.keyPrefix + "cat:" + c.Slug()
}

// Put implements Adapter. The entry is serialized to a single opaque blob
// keyed by its derived id, with a TTL mirroring its retention, and indexed
// by owner and category.
func (s *FastStore) Put(ctx context.Context, e *types.MemoryEntry) (string, error) {
	if e == nil || e.ID == "" {
		return "", ErrInvalidInput
	}

	blob, err := e.ContentJSON()
	if err != nil {
		return "", types.NewError(types.ErrCodeSerialization, "content not encodable for fast store").
			WithBackend(s.Name()).WithCause(err)
	}
	data, err := json.Marshal(fastEnvelope{Entry: e, TokenCount: s.estimator.Count(string(blob))})
	if err != nil {
		return "", types.NewError(types.ErrCodeSerialization, "entry not encodable for fast store").
			WithBackend(s.Name()).WithCause(err)
	}

	ttl := e.ExpiresAt().Sub(s.Now())
	if ttl <= 0 {
		// Already past retention; keep briefly so the next maintenance
		// sweep can observe and remove it everywhere.
		ttl = time.Minute
	}

	score := float64(e.CreatedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.entryKey(e.ID), data, ttl)
	pipe.ZAdd(ctx, s.categoryKey(e.Category), redis.Z{Score: score, Member: e.ID})
	if e.Owner != "" {
		pipe.ZAdd(ctx, s.ownerKey(e.Owner), redis.Z{Score: score, Member: e.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("fast store put: %w", err)
	}
	return e.ID, nil
}

// Get implements Adapter.
func (s *FastStore) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fast store get: %w", err)
	}

	var env fastEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("fast store decode: %w", err)
	}
	return env.Entry, nil
}

// Search implements Adapter. Candidate ids come from the owner index when
// the query is owner-scoped, otherwise from the category indexes, newest
// first; the full predicate is applied client-side. Multi-category and
// time-ranged queries are accepted but best-effort: the indexes favor
// recency, not completeness.
func (s *FastStore) Search(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	candidates := int64(q.Limit * searchOverfetch)

	var ids []string
	if q.Owner != "" {
		r, err := s.client.ZRevRange(ctx, s.ownerKey(q.Owner), 0, candidates-1).Result()
		if err != nil {
			return nil, fmt.Errorf("fast store search: %w", err)
		}
		ids = r
	} else {
		cats := q.Categories
		if len(cats) == 0 {
			cats = types.AllCategories()
		}
		seen := make(map[string]struct{})
		for _, c := range cats {
			r, err := s.client.ZRevRange(ctx, s.categoryKey(c), 0, candidates-1).Result()
			if err != nil {
				return nil, fmt.Errorf("fast store search: %w", err)
			}
			for _, id := range r {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fast store search: %w", err)
	}

	results := make([]*types.MemoryEntry, 0, q.Limit)
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Blob expired out from under its index entry; dropped lazily.
			continue
		}
		var env fastEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			s.logger.Warn("dropping undecodable fast-store blob", zap.Error(err))
			continue
		}
		if q.Matches(env.Entry) {
			results = append(results, env.Entry)
		}
	}

	types.SortEntries(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Delete implements Adapter. Absent ids are not an error.
func (s *FastStore) Delete(ctx context.Context, id string) error {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fast store delete: %w", err)
	}

	var env fastEnvelope
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.entryKey(id))
	if err := json.Unmarshal(data, &env); err == nil && env.Entry != nil {
		pipe.ZRem(ctx, s.categoryKey(env.Entry.Category), id)
		if env.Entry.Owner != "" {
			pipe.ZRem(ctx, s.ownerKey(env.Entry.Owner), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fast store delete: %w", err)
	}
	return nil
}

// HealthCheck implements Adapter.
func (s *FastStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Adapter.
func (s *FastStore) Close() error {
	return s.client.Close()
}

var _ Adapter = (*FastStore)(nil)
