package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/testutil/mocks"
	"github.com/BaSui01/membroker/types"
)

func newStatusHandler(t *testing.T, fast, analytical *mocks.Adapter) *StatusHandler {
	t.Helper()
	b := broker.New(fast, analytical, broker.Config{}, nil)
	t.Cleanup(func() { _ = b.Close() })
	return NewStatusHandler(b, zap.NewNop())
}

func TestStatusHandler_HandleStatus(t *testing.T) {
	fast := mocks.NewAdapter("fast", backend.RoleFast)
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	h := newStatusHandler(t, fast, analytical)

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "healthy", data["state"])

	backends := data["backends"].([]any)
	require.Len(t, backends, 2)
	names := make([]string, 0, 2)
	for _, b := range backends {
		names = append(names, b.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"fast", "analytical"}, names)
}

func TestStatusHandler_HandleStatus_DegradedBackend(t *testing.T) {
	fast := mocks.NewAdapter("fast", backend.RoleFast).
		WithHealthError(errors.New("connection refused"))
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	h := newStatusHandler(t, fast, analytical)

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)

	data := decodeEnvelope(t, w).Data.(map[string]any)
	assert.Equal(t, "degraded", data["state"])
}

func TestStatusHandler_HandleStatus_WrongMethod(t *testing.T) {
	fast := mocks.NewAdapter("fast", backend.RoleFast)
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	h := newStatusHandler(t, fast, analytical)

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusHandler_HandleMaintenance(t *testing.T) {
	fast := mocks.NewAdapter("fast", backend.RoleFast)
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	h := newStatusHandler(t, fast, analytical)

	w := httptest.NewRecorder()
	h.HandleMaintenance(w, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/run", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["cycle_id"])
	assert.NotEmpty(t, data["started_at"])
	assert.Equal(t, float64(0), data["expired_swept"])
}

func TestStatusHandler_HandleMaintenance_WrongMethod(t *testing.T) {
	fast := mocks.NewAdapter("fast", backend.RoleFast)
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	h := newStatusHandler(t, fast, analytical)

	w := httptest.NewRecorder()
	h.HandleMaintenance(w, httptest.NewRequest(http.MethodGet, "/api/v1/maintenance/run", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	resp := decodeEnvelope(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrCodeValidation), resp.Error.Code)
}

// parkingAdapter blocks its first Delete until released, holding a
// maintenance cycle open at a known point.
type parkingAdapter struct {
	*mocks.Adapter
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (p *parkingAdapter) Delete(ctx context.Context, id string) error {
	p.startOnce.Do(func() { close(p.started) })
	<-p.release
	return p.Adapter.Delete(ctx, id)
}

func TestStatusHandler_HandleMaintenance_Conflict(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fast := &parkingAdapter{
		Adapter: mocks.NewAdapter("fast", backend.RoleFast),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	b := broker.New(fast, analytical, broker.Config{Now: func() time.Time { return current }}, nil)
	t.Cleanup(func() { _ = b.Close() })
	h := NewStatusHandler(b, zap.NewNop())

	// Seed an entry the next cycle sweeps, then move past its retention.
	_, err := b.Store(context.Background(), types.CategorySystemState, map[string]any{"s": "v"}, "agent-1", 0.0, nil)
	require.NoError(t, err)
	current = current.Add(15 * 24 * time.Hour)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		w := httptest.NewRecorder()
		h.HandleMaintenance(w, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/run", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}()

	// The first cycle is parked inside the backend delete.
	<-fast.started
	w := httptest.NewRecorder()
	h.HandleMaintenance(w, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/run", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	resp := decodeEnvelope(t, w)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "already in progress")

	close(fast.release)
	<-firstDone
}
