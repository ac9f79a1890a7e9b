// Package broker exposes the public store/retrieve/status surface of the
// memory system. It glues validation, routing, the cache index, telemetry
// and maintenance together; callers never talk to a backend directly.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/cache"
	"github.com/BaSui01/membroker/internal/metrics"
	"github.com/BaSui01/membroker/retention"
	"github.com/BaSui01/membroker/router"
	"github.com/BaSui01/membroker/telemetry"
	"github.com/BaSui01/membroker/types"
)

// Config assembles the broker's moving parts. The zero value is usable.
type Config struct {
	// CacheCapacity bounds the in-process index. 0 selects the cache
	// default.
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity"`

	// TelemetryCapacity bounds the rolling sample buffer. 0 selects the
	// telemetry default.
	TelemetryCapacity int `yaml:"telemetry_capacity" json:"telemetry_capacity"`

	// Router tunes the routing policy.
	Router router.Config `yaml:"router" json:"router"`

	// Maintenance tunes the background sweep engine.
	Maintenance retention.Config `yaml:"maintenance" json:"maintenance"`

	// Metrics receives operational counters when set.
	Metrics *metrics.Collector `yaml:"-" json:"-"`

	// Now is the broker clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time `yaml:"-" json:"-"`
}

// StoreReceipt reports where a store landed.
type StoreReceipt struct {
	ID        string               `json:"id"`
	Category  types.MemoryCategory `json:"category"`
	Backends  []string             `json:"backends"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Broker is the facade in front of the hybrid memory system.
type Broker struct {
	fast       backend.Adapter
	analytical backend.Adapter

	cache    *cache.Index
	policy   *router.Policy
	recorder *telemetry.Recorder
	engine   *retention.Engine
	metrics  *metrics.Collector

	logger    *zap.Logger
	now       func() time.Time
	startedAt time.Time

	closeOnce sync.Once
	closeErr  error
}

// New wires a broker over the two adapters and starts the maintenance loop.
// Call Close to stop it.
func New(fast, analytical backend.Adapter, config Config, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	idx := cache.NewIndex(cache.Config{Capacity: config.CacheCapacity, Now: now}, logger)
	recorder := telemetry.NewRecorder(config.TelemetryCapacity)
	policy := router.New(fast, analytical, config.Router, logger)

	maintenance := config.Maintenance
	if maintenance.Now == nil {
		maintenance.Now = now
	}
	engine := retention.New(idx, []backend.Adapter{fast, analytical}, recorder, policy, maintenance, logger)

	b := &Broker{
		fast:       fast,
		analytical: analytical,
		cache:      idx,
		policy:     policy,
		recorder:   recorder,
		engine:     engine,
		metrics:    config.Metrics,
		logger:     logger.With(zap.String("component", "broker")),
		now:        now,
		startedAt:  now(),
	}

	engine.Start()
	b.logger.Info("memory broker ready",
		zap.String("fast_backend", fast.Name()),
		zap.String("analytical_backend", analytical.Name()),
		zap.Duration("maintenance_interval", engine.Interval()))
	return b
}

// Store validates and persists one memory entry according to the routing
// table. For hybrid categories the fast backend is written first and the
// analytical id is authoritative; the call fails only when every routed
// backend fails.
func (b *Broker) Store(ctx context.Context, category types.MemoryCategory, content map[string]any, owner string, importance float64, metadata map[string]string) (*StoreReceipt, error) {
	entry, err := types.NewEntryAt(category, content, owner, importance, metadata, b.now())
	if err != nil {
		return nil, err
	}

	plan, err := b.policy.PlanStore(ctx, entry.Category)
	if err != nil {
		return nil, err
	}

	blob, err := entry.ContentJSON()
	if err != nil {
		return nil, types.NewError(types.ErrCodeSerialization, "entry content not serializable").WithCause(err)
	}
	payload := len(blob)

	var (
		succeeded       []string
		authoritativeID string
		failures        []error
	)
	for _, a := range plan {
		start := b.now()
		id, putErr := a.Put(ctx, entry)
		elapsed := b.now().Sub(start)
		b.recorder.RecordCall(telemetry.OpStore, a.Name(), elapsed, payload, putErr)
		b.observeOp(a.Name(), "store", elapsed, payload, putErr)

		if putErr != nil {
			failures = append(failures, fmt.Errorf("%s: %w", a.Name(), putErr))
			b.logger.Warn("backend store failed",
				zap.String("backend", a.Name()),
				zap.String("entry_id", entry.ID),
				zap.Error(putErr))
			continue
		}
		succeeded = append(succeeded, a.Name())
		if a.Role() == backend.RoleAnalytical || authoritativeID == "" {
			authoritativeID = id
		}
	}

	if len(succeeded) == 0 {
		return nil, types.NewError(types.ErrCodeProviderUnavailable, "store failed on every routed backend").
			WithRetryable(true).
			WithCause(errors.Join(failures...))
	}

	b.cache.Put(entry)

	return &StoreReceipt{
		ID:        authoritativeID,
		Category:  entry.Category,
		Backends:  succeeded,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.ExpiresAt(),
	}, nil
}

// Retrieve answers a query: cache first, then the routed backends for the
// remainder, merged by id with first occurrence winning, ordered by
// importance then recency, truncated to the limit. Returned entries have
// their access bookkeeping bumped.
func (b *Broker) Retrieve(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error) {
	return b.retrieve(ctx, q, true)
}

func (b *Broker) retrieve(ctx context.Context, q *types.MemoryQuery, touch bool) ([]*types.MemoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	merged := make([]*types.MemoryEntry, 0, q.Limit)
	seen := make(map[string]struct{}, q.Limit)

	fromCache := b.cache.LookupByQuery(q)
	b.observeCache(len(fromCache) > 0)
	for _, e := range fromCache {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}

	if len(merged) < q.Limit {
		merged = append(merged, b.consultBackends(ctx, q, seen, q.Limit-len(merged))...)
	}

	types.SortEntries(merged)
	if len(merged) > q.Limit {
		merged = merged[:q.Limit]
	}

	if touch {
		now := b.now()
		for _, e := range merged {
			e.Touch(now)
			b.cache.Put(e)
		}
	}
	return merged, nil
}

// consultBackends walks the retrieve plan in preference order, keeping
// only results not already served and stopping once the limit is met.
// Each backend sees the full query window: its top results may duplicate
// entries the cache already yielded, and a shortfall-sized window would
// let those duplicates shadow fresh entries ranked below them. Backend
// failures narrow the result instead of surfacing: retrieval degrades to
// whatever the cache and the surviving backends produced.
func (b *Broker) consultBackends(ctx context.Context, q *types.MemoryQuery, seen map[string]struct{}, remaining int) []*types.MemoryEntry {
	plan, err := b.policy.PlanRetrieve(ctx, q)
	if err != nil {
		b.logger.Warn("no backend available for retrieve, serving cache only", zap.Error(err))
		return nil
	}

	var gathered []*types.MemoryEntry
	for _, a := range plan {
		if remaining <= 0 {
			break
		}

		start := b.now()
		results, searchErr := a.Search(ctx, q)
		elapsed := b.now().Sub(start)
		b.recorder.RecordCall(telemetry.OpSearch, a.Name(), elapsed, 0, searchErr)
		b.observeOp(a.Name(), "search", elapsed, 0, searchErr)

		if searchErr != nil {
			b.logger.Warn("backend search failed",
				zap.String("backend", a.Name()),
				zap.Error(searchErr))
			continue
		}
		for _, e := range results {
			if remaining == 0 {
				break
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			gathered = append(gathered, e)
			remaining--
		}
	}
	return gathered
}

// Get fetches a single entry by id, trying the cache and then the backends
// suggested by the id's category prefix.
func (b *Broker) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, types.NewError(types.ErrCodeValidation, "entry id must not be empty")
	}

	if e, ok := b.cache.Get(id); ok {
		b.observeCache(true)
		e.Touch(b.now())
		b.cache.Put(e)
		return e, nil
	}
	b.observeCache(false)

	order := []backend.Adapter{b.fast, b.analytical}
	if c, ok := backend.CategoryFromID(id); ok && router.StaticRoute(c) == router.RouteAnalytical {
		order = []backend.Adapter{b.analytical, b.fast}
	}

	var failures []error
	for _, a := range order {
		start := b.now()
		e, err := a.Get(ctx, id)
		elapsed := b.now().Sub(start)

		// A miss is a healthy answer; only real failures count against
		// the backend.
		recordErr := err
		if errors.Is(err, backend.ErrNotFound) {
			recordErr = nil
		}
		b.recorder.RecordCall(telemetry.OpSearch, a.Name(), elapsed, 0, recordErr)
		b.observeOp(a.Name(), "get", elapsed, 0, recordErr)

		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", a.Name(), err))
			b.logger.Warn("backend get failed",
				zap.String("backend", a.Name()),
				zap.String("entry_id", id),
				zap.Error(err))
			continue
		}

		e.Touch(b.now())
		b.cache.Put(e)
		return e, nil
	}

	if len(failures) == len(order) && len(failures) > 0 {
		return nil, types.NewError(types.ErrCodeProviderUnavailable, "get failed on every backend").
			WithRetryable(true).
			WithCause(errors.Join(failures...))
	}
	return nil, types.NewError(types.ErrCodeNotFound, fmt.Sprintf("memory entry %s not found", id))
}

// RunMaintenanceNow triggers one maintenance cycle immediately. A cycle
// already in flight surfaces retention.ErrCycleInProgress.
func (b *Broker) RunMaintenanceNow(ctx context.Context) (*retention.CycleResult, error) {
	result, err := b.engine.RunNow(ctx)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.RecordMaintenanceCycle(result.ExpiredSwept, result.Duration)
	}
	return result, nil
}

// Close stops maintenance and releases both adapters. Safe to call twice.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		b.engine.Stop()
		b.closeErr = errors.Join(b.fast.Close(), b.analytical.Close())
		b.logger.Info("memory broker closed")
	})
	return b.closeErr
}

// observeOp forwards one backend call to the metrics collector, if any.
func (b *Broker) observeOp(backendName, op string, elapsed time.Duration, payload int, err error) {
	if b.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordMemoryOp(backendName, op, status, elapsed, payload)
}

func (b *Broker) observeCache(hit bool) {
	if b.metrics == nil {
		return
	}
	if hit {
		b.metrics.RecordCacheHit("index")
	} else {
		b.metrics.RecordCacheMiss("index")
	}
}

// Status captures a point-in-time view of the whole system.
type Status struct {
	State               string                            `json:"state"`
	Backends            []BackendStatus                   `json:"backends"`
	Cache               cache.Stats                       `json:"cache"`
	Bias                map[string]router.BackendScore    `json:"bias"`
	BiasComputedAt      time.Time                         `json:"bias_computed_at"`
	Telemetry           map[string]telemetry.BackendStats `json:"telemetry"`
	SamplesRecorded     uint64                            `json:"samples_recorded"`
	LastMaintenance     *retention.CycleResult            `json:"last_maintenance,omitempty"`
	MaintenanceInterval time.Duration                     `json:"maintenance_interval"`
	Uptime              time.Duration                     `json:"uptime"`
}

// BackendStatus is the per-backend slice of Status.
type BackendStatus struct {
	Name    string       `json:"name"`
	Role    backend.Role `json:"role"`
	Healthy bool         `json:"healthy"`
	Error   string       `json:"error,omitempty"`
}

// Status probes both backends in parallel and snapshots every subsystem.
func (b *Broker) Status(ctx context.Context) *Status {
	adapters := []backend.Adapter{b.fast, b.analytical}
	statuses := make([]BackendStatus, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()

			start := b.now()
			err := a.HealthCheck(probeCtx)
			b.recorder.RecordCall(telemetry.OpHealth, a.Name(), b.now().Sub(start), 0, err)

			st := BackendStatus{Name: a.Name(), Role: a.Role(), Healthy: err == nil}
			if err != nil {
				st.Error = err.Error()
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	healthyCount := 0
	for _, st := range statuses {
		if st.Healthy {
			healthyCount++
		}
	}
	state := "healthy"
	switch healthyCount {
	case 0:
		state = "unavailable"
	case len(statuses):
		// all healthy
	default:
		state = "degraded"
	}

	bias, biasAt := b.policy.BiasSnapshot()
	return &Status{
		State:               state,
		Backends:            statuses,
		Cache:               b.cache.Stats(),
		Bias:                bias,
		BiasComputedAt:      biasAt,
		Telemetry:           b.recorder.BackendStats(0),
		SamplesRecorded:     b.recorder.Total(),
		LastMaintenance:     b.engine.LastCycle(),
		MaintenanceInterval: b.engine.Interval(),
		Uptime:              b.now().Sub(b.startedAt),
	}
}
