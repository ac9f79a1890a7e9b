package broker

import (
	"context"
	"time"

	"github.com/BaSui01/membroker/cache"
	"github.com/BaSui01/membroker/router"
	"github.com/BaSui01/membroker/telemetry"
	"github.com/BaSui01/membroker/types"
)

// The helpers below wrap Store with the content shape and importance
// weighting conventional for each category, so agent code does not
// hand-assemble payloads.

// StoreAgentMessage records one inter-agent message. Direct messages weigh
// more than broadcasts (empty toAgent).
func (b *Broker) StoreAgentMessage(ctx context.Context, fromAgent, toAgent string, message map[string]any) (*StoreReceipt, error) {
	importance := 0.6
	if toAgent == "" {
		importance = 0.5
	}
	content := map[string]any{
		"from":    fromAgent,
		"to":      toAgent,
		"message": message,
	}
	return b.Store(ctx, types.CategoryAgentCommunication, content, fromAgent, importance, nil)
}

// StoreLearningData records a training or feedback observation. Highly
// effective lessons float above the 0.6 baseline.
func (b *Broker) StoreLearningData(ctx context.Context, agentID, topic string, data map[string]any, effectiveness float64) (*StoreReceipt, error) {
	importance := clamp01(effectiveness)
	if importance < 0.6 {
		importance = 0.6
	}
	content := map[string]any{
		"topic":         topic,
		"data":          data,
		"effectiveness": effectiveness,
	}
	return b.Store(ctx, types.CategoryLearningData, content, agentID, importance, nil)
}

// StoreUserInteraction records one user exchange. Sentiment in [0,1] lifts
// importance from the 0.7 floor.
func (b *Broker) StoreUserInteraction(ctx context.Context, agentID, userInput, agentResponse string, sentiment float64) (*StoreReceipt, error) {
	content := map[string]any{
		"user_input": userInput,
		"response":   agentResponse,
		"sentiment":  sentiment,
	}
	return b.Store(ctx, types.CategoryUserInteraction, content, agentID, 0.7+0.3*clamp01(sentiment), nil)
}

// StoreKnowledgeFragment records a piece of extracted knowledge; confidence
// doubles as importance.
func (b *Broker) StoreKnowledgeFragment(ctx context.Context, agentID, subject string, fragment map[string]any, confidence float64) (*StoreReceipt, error) {
	content := map[string]any{
		"subject":    subject,
		"fragment":   fragment,
		"confidence": confidence,
	}
	return b.Store(ctx, types.CategoryKnowledgeFragments, content, agentID, clamp01(confidence), nil)
}

// StoreSystemState snapshots one component's runtime state.
func (b *Broker) StoreSystemState(ctx context.Context, component string, state map[string]any) (*StoreReceipt, error) {
	content := map[string]any{
		"component": component,
		"state":     state,
	}
	return b.Store(ctx, types.CategorySystemState, content, component, 0.5, nil)
}

// StorePerformanceMetric records one measured value with optional tags.
func (b *Broker) StorePerformanceMetric(ctx context.Context, agentID, metric string, value float64, tags map[string]string) (*StoreReceipt, error) {
	content := map[string]any{
		"metric": metric,
		"value":  value,
	}
	return b.Store(ctx, types.CategoryPerformanceMetrics, content, agentID, 0.4, tags)
}

// StoreEvolutionEvent records a change to an agent's own configuration or
// behavior. These are rare and always significant.
func (b *Broker) StoreEvolutionEvent(ctx context.Context, agentID, event string, details map[string]any) (*StoreReceipt, error) {
	content := map[string]any{
		"event":   event,
		"details": details,
	}
	return b.Store(ctx, types.CategoryEvolutionHistory, content, agentID, 0.8, nil)
}

// StoreCollectiveInsight records a conclusion shared by several agents.
// Consensus in [0,1] lifts importance from the 0.8 floor. The insight has
// no single owner.
func (b *Broker) StoreCollectiveInsight(ctx context.Context, contributors []string, insight map[string]any, consensus float64) (*StoreReceipt, error) {
	content := map[string]any{
		"contributors": contributors,
		"insight":      insight,
		"consensus":    consensus,
	}
	return b.Store(ctx, types.CategoryCollectiveIntelligence, content, "", 0.8+0.2*clamp01(consensus), nil)
}

// AgentSummary aggregates one agent's stored memory.
type AgentSummary struct {
	AgentID       string                       `json:"agent_id"`
	TotalEntries  int                          `json:"total_entries"`
	ByCategory    map[types.MemoryCategory]int `json:"by_category"`
	AvgImportance float64                      `json:"avg_importance"`
	LastActivity  *time.Time                   `json:"last_activity,omitempty"`
	Truncated     bool                         `json:"truncated"`
}

// AgentMemorySummary aggregates everything stored for one agent, bounded by
// the query ceiling. Reading for a summary does not bump access counters.
func (b *Broker) AgentMemorySummary(ctx context.Context, agentID string) (*AgentSummary, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrCodeValidation, "agent id must not be empty")
	}

	q := types.NewQuery()
	q.Owner = agentID
	q.Limit = types.QueryLimitCeiling

	entries, err := b.retrieve(ctx, q, false)
	if err != nil {
		return nil, err
	}

	summary := &AgentSummary{
		AgentID:    agentID,
		ByCategory: make(map[types.MemoryCategory]int),
		Truncated:  len(entries) == types.QueryLimitCeiling,
	}
	var importanceSum float64
	for _, e := range entries {
		summary.TotalEntries++
		summary.ByCategory[e.Category]++
		importanceSum += e.Importance
		if summary.LastActivity == nil || e.CreatedAt.After(*summary.LastActivity) {
			created := e.CreatedAt
			summary.LastActivity = &created
		}
	}
	if summary.TotalEntries > 0 {
		summary.AvgImportance = importanceSum / float64(summary.TotalEntries)
	}
	return summary, nil
}

// SystemAnalytics aggregates memory distribution and subsystem health for
// dashboards.
type SystemAnalytics struct {
	ByCategory   map[types.MemoryCategory]int      `json:"by_category"`
	TotalSampled int                               `json:"total_sampled"`
	Truncated    bool                              `json:"truncated"`
	Cache        cache.Stats                       `json:"cache"`
	Backends     map[string]telemetry.BackendStats `json:"backends"`
	Bias         map[string]router.BackendScore    `json:"bias"`
	GeneratedAt  time.Time                         `json:"generated_at"`
}

// SystemMemoryAnalytics samples up to the query ceiling across every
// category and reports the distribution alongside cache, telemetry and
// routing snapshots.
func (b *Broker) SystemMemoryAnalytics(ctx context.Context) (*SystemAnalytics, error) {
	q := types.NewQuery()
	q.Limit = types.QueryLimitCeiling

	entries, err := b.retrieve(ctx, q, false)
	if err != nil {
		return nil, err
	}

	analytics := &SystemAnalytics{
		ByCategory:   make(map[types.MemoryCategory]int),
		TotalSampled: len(entries),
		Truncated:    len(entries) == types.QueryLimitCeiling,
		Cache:        b.cache.Stats(),
		Backends:     b.recorder.BackendStats(0),
		GeneratedAt:  b.now(),
	}
	for _, e := range entries {
		analytics.ByCategory[e.Category]++
	}
	analytics.Bias, _ = b.policy.BiasSnapshot()
	return analytics, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
