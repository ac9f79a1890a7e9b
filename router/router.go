// Package router decides which backends participate in each store and
// retrieve call. Store placement follows a static category table. Retrieve
// placement follows the query shape, with a soft bias computed from recent
// telemetry applied only where the static rules leave a choice open.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/telemetry"
	"github.com/BaSui01/membroker/types"
)

// Route names which backend set a category or query maps to.
type Route string

const (
	RouteFast       Route = "fast"
	RouteAnalytical Route = "analytical"
	RouteBoth       Route = "both"
)

const (
	// DefaultSuccessFloor is the recent success rate below which a backend
	// is not preferred in the bias-consulted path.
	DefaultSuccessFloor = 0.9

	// narrowLimit is the largest limit still considered a narrow query.
	narrowLimit = 10

	// healthProbeTimeout bounds the per-adapter health probe during
	// planning.
	healthProbeTimeout = 2 * time.Second
)

// staticRoutes is the category placement table. Missing categories default
// to RouteBoth.
var staticRoutes = map[types.MemoryCategory]Route{
	types.CategoryAgentCommunication:     RouteFast,
	types.CategoryUserInteraction:        RouteFast,
	types.CategoryPerformanceMetrics:     RouteFast,
	types.CategorySystemState:            RouteFast,
	types.CategoryLearningData:           RouteAnalytical,
	types.CategoryCollectiveIntelligence: RouteAnalytical,
	types.CategoryEvolutionHistory:       RouteAnalytical,
	types.CategoryKnowledgeFragments:     RouteBoth,
}

// StaticRoute looks up the static placement for a category.
func StaticRoute(c types.MemoryCategory) Route {
	if r, ok := staticRoutes[c]; ok {
		return r
	}
	return RouteBoth
}

// BackendScore is the optimizer's verdict on one backend.
type BackendScore struct {
	Score       float64 `json:"score"`
	SuccessRate float64 `json:"success_rate"`
	Samples     int     `json:"samples"`
}

// biasTable is an immutable snapshot installed by Reweight. Readers load it
// atomically and never observe a partial update.
type biasTable struct {
	scores     map[string]BackendScore
	computedAt time.Time
}

// Config tunes the policy.
type Config struct {
	// SuccessFloor is the recent success rate under which a backend loses
	// bias preference. 0 selects DefaultSuccessFloor.
	SuccessFloor float64 `yaml:"success_floor" json:"success_floor"`
}

// Policy routes operations across the fast and analytical adapters.
type Policy struct {
	fast         backend.Adapter
	analytical   backend.Adapter
	successFloor float64
	bias         atomic.Pointer[biasTable]
	logger       *zap.Logger
}

// New builds a policy over the two adapters. Both must be non-nil.
func New(fast, analytical backend.Adapter, config Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	floor := config.SuccessFloor
	if floor <= 0 {
		floor = DefaultSuccessFloor
	}
	p := &Policy{
		fast:         fast,
		analytical:   analytical,
		successFloor: floor,
		logger:       logger.With(zap.String("component", "router")),
	}
	p.bias.Store(&biasTable{scores: map[string]BackendScore{}})
	return p
}

// Adapters returns both adapters, fast first.
func (p *Policy) Adapters() []backend.Adapter {
	return []backend.Adapter{p.fast, p.analytical}
}

// PlanStore returns the adapters to write to, in order. Hybrid categories
// write fast first, then analytical. Single-assignment categories fall back
// to the other adapter only when the assigned one is unhealthy; bias never
// moves a store.
func (p *Policy) PlanStore(ctx context.Context, c types.MemoryCategory) ([]backend.Adapter, error) {
	switch StaticRoute(c) {
	case RouteBoth:
		return []backend.Adapter{p.fast, p.analytical}, nil
	case RouteFast:
		return p.firstHealthy(ctx, p.fast, p.analytical)
	default:
		return p.firstHealthy(ctx, p.analytical, p.fast)
	}
}

// PlanRetrieve returns the adapters to consult, in preference order.
// Narrow queries prefer the fast adapter, time-ranged or multi-category
// queries prefer the analytical one, everything else consults both with
// the telemetry bias deciding who goes first.
func (p *Policy) PlanRetrieve(ctx context.Context, q *types.MemoryQuery) ([]backend.Adapter, error) {
	switch retrieveRoute(q) {
	case RouteFast:
		return p.firstHealthy(ctx, p.fast, p.analytical)
	case RouteAnalytical:
		return p.firstHealthy(ctx, p.analytical, p.fast)
	default:
		return p.planHybrid(ctx)
	}
}

// retrieveRoute classifies the query shape. The narrow rule is checked
// first, so a narrow multi-category query still goes to the fast adapter and
// accepts best-effort results.
func retrieveRoute(q *types.MemoryQuery) Route {
	switch {
	case q.TimeRange == nil && q.Limit <= narrowLimit:
		return RouteFast
	case q.TimeRange != nil || len(q.Categories) > 1:
		return RouteAnalytical
	default:
		return RouteBoth
	}
}

// firstHealthy probes preferred then fallback and returns the first that
// answers, alone. Neither answering is a routing failure.
func (p *Policy) firstHealthy(ctx context.Context, preferred, fallback backend.Adapter) ([]backend.Adapter, error) {
	if p.healthy(ctx, preferred) {
		return []backend.Adapter{preferred}, nil
	}
	p.logger.Warn("preferred backend unhealthy, falling back",
		zap.String("preferred", preferred.Name()),
		zap.String("fallback", fallback.Name()))
	if p.healthy(ctx, fallback) {
		return []backend.Adapter{fallback}, nil
	}
	return nil, types.NewError(types.ErrCodeProviderUnavailable, "no healthy backend available").
		WithRetryable(true)
}

// planHybrid orders both adapters by bias score, drops a backend whose
// recent success rate sits under the floor when the other is above it, and
// then filters by live health. All-below-floor keeps both: degraded service
// beats no service.
func (p *Policy) planHybrid(ctx context.Context) ([]backend.Adapter, error) {
	first, second := p.fast, p.analytical
	table := p.bias.Load()
	fastScore := table.scoreFor(p.fast.Name())
	analyticalScore := table.scoreFor(p.analytical.Name())

	if analyticalScore.Score > fastScore.Score {
		first, second = p.analytical, p.fast
	}

	candidates := []backend.Adapter{first, second}
	firstRate := table.scoreFor(first.Name()).SuccessRate
	secondRate := table.scoreFor(second.Name()).SuccessRate
	if firstRate < p.successFloor && secondRate >= p.successFloor {
		candidates = []backend.Adapter{second}
	} else if secondRate < p.successFloor && firstRate >= p.successFloor {
		candidates = []backend.Adapter{first}
	}

	healthy := make([]backend.Adapter, 0, len(candidates))
	for _, a := range candidates {
		if p.healthy(ctx, a) {
			healthy = append(healthy, a)
		}
	}
	if len(healthy) == 0 {
		return nil, types.NewError(types.ErrCodeProviderUnavailable, "no healthy backend available").
			WithRetryable(true)
	}
	return healthy, nil
}

func (p *Policy) healthy(ctx context.Context, a backend.Adapter) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := a.HealthCheck(probeCtx); err != nil {
		p.logger.Debug("health probe failed",
			zap.String("backend", a.Name()), zap.Error(err))
		return false
	}
	return true
}

// Reweight reduces a telemetry snapshot into a fresh bias table and installs
// it atomically. Backends with no samples keep a neutral score of 1.0 so a
// cold start changes nothing.
func (p *Policy) Reweight(stats map[string]telemetry.BackendStats) {
	scores := make(map[string]BackendScore, len(stats))
	for name, st := range stats {
		scores[name] = BackendScore{
			Score:       scoreOf(st),
			SuccessRate: st.SuccessRate,
			Samples:     st.Samples,
		}
	}
	p.bias.Store(&biasTable{scores: scores, computedAt: time.Now()})
	p.logger.Debug("routing bias reweighted", zap.Int("backends", len(scores)))
}

// BiasSnapshot exposes the live bias for status reporting.
func (p *Policy) BiasSnapshot() (map[string]BackendScore, time.Time) {
	table := p.bias.Load()
	out := make(map[string]BackendScore, len(table.scores))
	for name, s := range table.scores {
		out[name] = s
	}
	return out, table.computedAt
}

// scoreOf folds success rate and latency into one preference number. A
// perfect backend at 0ms scores 1.0; each 100ms of average latency halves
// the score once.
func scoreOf(st telemetry.BackendStats) float64 {
	latencyMs := float64(st.AvgLatency) / float64(time.Millisecond)
	return st.SuccessRate / (1 + latencyMs/100)
}

func (t *biasTable) scoreFor(name string) BackendScore {
	if s, ok := t.scores[name]; ok {
		return s
	}
	return BackendScore{Score: 1.0, SuccessRate: 1.0}
}
