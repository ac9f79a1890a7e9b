// Package mocks provides hand-rolled test doubles for the broker's
// collaborators, with error injection and call accounting.
//
// Usage:
//
//	fast := mocks.NewAdapter("fast", backend.RoleFast)
//	fast.WithSearchError(errors.New("down"))
//	results, err := fast.Search(ctx, query)
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/types"
)

// Adapter is an in-memory backend.Adapter with injectable failures.
type Adapter struct {
	mu sync.RWMutex

	name string
	role backend.Role

	entries map[string]*types.MemoryEntry

	putErr    error
	getErr    error
	searchErr error
	deleteErr error
	healthErr error
	latency   time.Duration

	putCalls    int
	getCalls    int
	searchCalls int
	deleteCalls int
	healthCalls int
	closed      bool
}

// NewAdapter builds an empty mock backend.
func NewAdapter(name string, role backend.Role) *Adapter {
	return &Adapter{
		name:    name,
		role:    role,
		entries: make(map[string]*types.MemoryEntry),
	}
}

// WithPutError makes Put fail with err.
func (a *Adapter) WithPutError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.putErr = err
	return a
}

// WithGetError makes Get fail with err.
func (a *Adapter) WithGetError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getErr = err
	return a
}

// WithSearchError makes Search fail with err.
func (a *Adapter) WithSearchError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searchErr = err
	return a
}

// WithDeleteError makes Delete fail with err.
func (a *Adapter) WithDeleteError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleteErr = err
	return a
}

// WithHealthError makes HealthCheck fail with err.
func (a *Adapter) WithHealthError(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthErr = err
	return a
}

// WithLatency makes every call sleep for d first.
func (a *Adapter) WithLatency(d time.Duration) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
	return a
}

// WithEntries preloads entries.
func (a *Adapter) WithEntries(entries ...*types.MemoryEntry) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		a.entries[e.ID] = e.Clone()
	}
	return a
}

// Name implements backend.Adapter.
func (a *Adapter) Name() string { return a.name }

// Role implements backend.Adapter.
func (a *Adapter) Role() backend.Role { return a.role }

// Put implements backend.Adapter.
func (a *Adapter) Put(ctx context.Context, e *types.MemoryEntry) (string, error) {
	a.sleep(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.putCalls++
	if a.putErr != nil {
		return "", a.putErr
	}
	if e == nil {
		return "", backend.ErrInvalidInput
	}
	a.entries[e.ID] = e.Clone()
	return e.ID, nil
}

// Get implements backend.Adapter.
func (a *Adapter) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	a.sleep(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++
	if a.getErr != nil {
		return nil, a.getErr
	}
	e, ok := a.entries[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return e.Clone(), nil
}

// Search implements backend.Adapter.
func (a *Adapter) Search(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error) {
	a.sleep(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searchCalls++
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	var out []*types.MemoryEntry
	for _, e := range a.entries {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	types.SortEntries(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Delete implements backend.Adapter.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	a.sleep(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleteCalls++
	if a.deleteErr != nil {
		return a.deleteErr
	}
	delete(a.entries, id)
	return nil
}

// HealthCheck implements backend.Adapter.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.sleep(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthCalls++
	return a.healthErr
}

// Close implements backend.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close ran.
func (a *Adapter) Closed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// Len reports how many entries the mock holds.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Has reports whether id is stored.
func (a *Adapter) Has(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[id]
	return ok
}

// PutCalls reports how many times Put ran.
func (a *Adapter) PutCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.putCalls
}

// GetCalls reports how many times Get ran.
func (a *Adapter) GetCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getCalls
}

// SearchCalls reports how many times Search ran.
func (a *Adapter) SearchCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.searchCalls
}

// DeleteCalls reports how many times Delete ran.
func (a *Adapter) DeleteCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deleteCalls
}

// HealthCalls reports how many times HealthCheck ran.
func (a *Adapter) HealthCalls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthCalls
}

func (a *Adapter) sleep(ctx context.Context) {
	a.mu.RLock()
	d := a.latency
	a.mu.RUnlock()
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

var _ backend.Adapter = (*Adapter)(nil)
