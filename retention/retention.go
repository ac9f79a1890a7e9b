// Package retention runs the periodic maintenance cycle: sweep expired
// entries out of the cache, fan the same deletions out to every backend,
// re-apply the cache capacity bound, and hand fresh telemetry to the
// routing optimizer. One failing step is logged and skipped, never fatal
// to the engine.
package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/cache"
	"github.com/BaSui01/membroker/telemetry"
)

// DefaultInterval is the sweep cadence when the config leaves it unset.
const DefaultInterval = 4 * time.Hour

// ErrCycleInProgress is returned by RunNow when a cycle is already running.
var ErrCycleInProgress = errors.New("maintenance cycle already in progress")

// Reweighter receives fresh per-backend stats at the end of each cycle.
// *router.Policy satisfies it.
type Reweighter interface {
	Reweight(stats map[string]telemetry.BackendStats)
}

// Config tunes the engine.
type Config struct {
	// Interval between automatic cycles. 0 selects DefaultInterval.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Window is the per-backend sample window handed to the optimizer.
	// 0 selects telemetry.DefaultWindow.
	Window int `yaml:"window" json:"window"`

	// Now is the clock used for cycle bookkeeping. Defaults to time.Now.
	Now func() time.Time `yaml:"-" json:"-"`
}

// CycleResult summarizes one maintenance cycle.
type CycleResult struct {
	CycleID        string         `json:"cycle_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	ExpiredSwept   int            `json:"expired_swept"`
	CacheEvicted   int            `json:"cache_evicted"`
	BackendDeletes map[string]int `json:"backend_deletes"`
	DeleteFailures int            `json:"delete_failures"`
	Reweighted     bool           `json:"reweighted"`
}

// Engine owns the background maintenance loop.
type Engine struct {
	cache    *cache.Index
	adapters []backend.Adapter
	recorder *telemetry.Recorder
	policy   Reweighter

	interval time.Duration
	window   int
	now      func() time.Time
	logger   *zap.Logger

	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once

	mu        sync.RWMutex
	lastCycle *CycleResult
}

// New builds an engine. recorder and policy may be nil; the reweight step is
// skipped when either is missing.
func New(idx *cache.Index, adapters []backend.Adapter, recorder *telemetry.Recorder, policy Reweighter, config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	window := config.Window
	if window <= 0 {
		window = telemetry.DefaultWindow
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cache:    idx,
		adapters: adapters,
		recorder: recorder,
		policy:   policy,
		interval: interval,
		window:   window,
		now:      now,
		logger:   logger.With(zap.String("component", "retention")),
	}
}

// Start launches the periodic loop. Calling Start more than once is a no-op.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.wg.Add(1)
		go e.loop(ctx)
		e.logger.Info("maintenance engine started", zap.Duration("interval", e.interval))
	})
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunNow(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				e.logger.Warn("maintenance cycle failed", zap.Error(err))
			}
		}
	}
}

// RunNow executes one full cycle immediately. Only one cycle runs at a time;
// a concurrent call gets ErrCycleInProgress instead of queueing.
func (e *Engine) RunNow(ctx context.Context) (*CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)

	started := e.now()
	result := &CycleResult{
		CycleID:        uuid.New().String(),
		StartedAt:      started,
		BackendDeletes: make(map[string]int),
	}
	log := e.logger.With(zap.String("cycle_id", result.CycleID))

	expired := e.cache.SweepExpired()
	result.ExpiredSwept = len(expired)

	if len(expired) > 0 {
		e.deleteEverywhere(ctx, expired, result, log)
	}

	result.CacheEvicted = e.cache.EvictOverCap()

	if e.recorder != nil && e.policy != nil {
		e.policy.Reweight(e.recorder.BackendStats(e.window))
		result.Reweighted = true
	}

	result.Duration = e.now().Sub(started)
	log.Info("maintenance cycle finished",
		zap.Int("expired_swept", result.ExpiredSwept),
		zap.Int("cache_evicted", result.CacheEvicted),
		zap.Int("delete_failures", result.DeleteFailures),
		zap.Duration("duration", result.Duration))

	e.mu.Lock()
	e.lastCycle = result
	e.mu.Unlock()
	return result, nil
}

// deleteEverywhere instructs every backend to delete each expired id. The
// group collects outcomes instead of aborting: one backend erroring must
// not stop the others from purging.
func (e *Engine) deleteEverywhere(ctx context.Context, ids []string, result *CycleResult, log *zap.Logger) {
	type outcome struct {
		backend  string
		deleted  int
		failures int
	}

	outcomes := make([]outcome, len(e.adapters))
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range e.adapters {
		i, a := i, a
		g.Go(func() error {
			out := outcome{backend: a.Name()}
			for _, id := range ids {
				if err := gctx.Err(); err != nil {
					break
				}
				began := time.Now()
				err := a.Delete(gctx, id)
				if e.recorder != nil {
					e.recorder.RecordCall(telemetry.OpDelete, a.Name(), time.Since(began), 0, err)
				}
				if err != nil {
					out.failures++
					log.Warn("backend delete failed",
						zap.String("backend", a.Name()),
						zap.String("id", id),
						zap.Error(err))
					continue
				}
				out.deleted++
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		result.BackendDeletes[out.backend] = out.deleted
		result.DeleteFailures += out.failures
	}
}

// LastCycle returns the most recent cycle result, or nil before the first
// cycle completes.
func (e *Engine) LastCycle() *CycleResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCycle
}

// Interval reports the configured cadence.
func (e *Engine) Interval() time.Duration { return e.interval }
