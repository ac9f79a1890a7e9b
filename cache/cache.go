// Package cache provides the process-wide read-through index in front of the
// durable backends. It is a best-effort accelerator: entries appear in it
// after successful stores and retrievals, and it is never the source of
// truth. Readers always receive defensive copies, so a concurrent insert or
// eviction can never surface a torn entry.
package cache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/types"
)

// DefaultCapacity bounds the resident entry count when the config leaves it
// unset.
const DefaultCapacity = 1000

// Config controls capacity and, for tests, the clock.
type Config struct {
	// Capacity is the soft cap on resident entries. 0 means DefaultCapacity.
	Capacity int

	// Now is used for expiry decisions. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup happened.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Index is a bounded id-to-entry map shared by every caller in the process.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*types.MemoryEntry

	capacity int
	now      func() time.Time
	logger   *zap.Logger

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// NewIndex builds an empty index.
func NewIndex(config Config, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Index{
		entries:  make(map[string]*types.MemoryEntry),
		capacity: capacity,
		now:      now,
		logger:   logger.With(zap.String("component", "cache_index")),
	}
}

// Put inserts or replaces an entry. The index keeps its own copy, so later
// mutation of e by the caller does not leak into cached reads. Inserting
// over capacity evicts oldest-by-creation entries until the cap holds.
func (x *Index) Put(e *types.MemoryEntry) {
	if e == nil || e.ID == "" {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.entries[e.ID] = e.Clone()
	x.evictOverCapLocked()
}

// Get returns a copy of the entry for id, or false when the id is absent or
// already past its retention window. Expired entries are dropped on sight.
func (x *Index) Get(id string) (*types.MemoryEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ent, ok := x.entries[id]
	if !ok {
		x.misses++
		return nil, false
	}
	if ent.Expired(x.now()) {
		delete(x.entries, id)
		x.expirations++
		x.misses++
		return nil, false
	}
	x.hits++
	return ent.Clone(), true
}

// LookupByQuery scans the resident entries with the same predicate the
// backends apply and returns matches in canonical order, truncated to the
// query limit. Expired residents are skipped, not returned.
func (x *Index) LookupByQuery(q *types.MemoryQuery) []*types.MemoryEntry {
	if q == nil {
		return nil
	}

	x.mu.RLock()
	now := x.now()
	matches := make([]*types.MemoryEntry, 0, 16)
	for _, ent := range x.entries {
		if ent.Expired(now) {
			continue
		}
		if q.Matches(ent) {
			matches = append(matches, ent.Clone())
		}
	}
	x.mu.RUnlock()

	types.SortEntries(matches)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches
}

// SweepExpired removes every resident entry past its retention window and
// returns their ids. The Maintenance Engine calls this each cycle and fans
// the returned ids out as backend deletes.
func (x *Index) SweepExpired() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	var dropped []string
	for id, ent := range x.entries {
		if ent.Expired(now) {
			delete(x.entries, id)
			dropped = append(dropped, id)
		}
	}
	x.expirations += uint64(len(dropped))
	if len(dropped) > 0 {
		x.logger.Debug("cache sweep dropped expired entries", zap.Int("dropped", len(dropped)))
	}
	return dropped
}

// EvictOverCap applies the capacity bound outside the write path and
// returns how many entries were evicted.
func (x *Index) EvictOverCap() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	before := len(x.entries)
	x.evictOverCapLocked()
	return before - len(x.entries)
}

// Len reports the resident entry count.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Stats snapshots the counters.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{
		Size:        len(x.entries),
		Capacity:    x.capacity,
		Hits:        x.hits,
		Misses:      x.misses,
		Evictions:   x.evictions,
		Expirations: x.expirations,
	}
}

// Clear empties the index. Counters survive.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]*types.MemoryEntry)
}

// evictOverCapLocked enforces the capacity bound, dropping oldest-by-creation
// entries first. Capacity pressure is distinct from retention expiry: evicted
// entries are still alive in the backends.
func (x *Index) evictOverCapLocked() {
	if len(x.entries) <= x.capacity {
		return
	}

	type kv struct {
		id        string
		createdAt time.Time
	}
	all := make([]kv, 0, len(x.entries))
	for id, ent := range x.entries {
		all = append(all, kv{id: id, createdAt: ent.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	toEvict := len(x.entries) - x.capacity
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(x.entries, all[i].id)
	}
	x.evictions += uint64(toEvict)
}
