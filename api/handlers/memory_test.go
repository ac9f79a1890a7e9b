package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membroker/backend"
	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/testutil/mocks"
	"github.com/BaSui01/membroker/types"
)

func newMemoryHandler(t *testing.T) (*MemoryHandler, *mocks.Adapter, *mocks.Adapter) {
	t.Helper()
	fast := mocks.NewAdapter("fast", backend.RoleFast)
	analytical := mocks.NewAdapter("analytical", backend.RoleAnalytical)
	b := broker.New(fast, analytical, broker.Config{}, nil)
	t.Cleanup(func() { _ = b.Close() })
	return NewMemoryHandler(b, zap.NewNop()), fast, analytical
}

func postJSON(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func storeEntry(t *testing.T, h *MemoryHandler, body string) string {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleStore(w, postJSON("/api/v1/memory", body))
	require.Equal(t, http.StatusCreated, w.Code, "store failed: %s", w.Body.String())

	resp := decodeEnvelope(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	id, _ := data["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestMemoryHandler_HandleStore(t *testing.T) {
	h, fast, analytical := newMemoryHandler(t)

	w := httptest.NewRecorder()
	h.HandleStore(w, postJSON("/api/v1/memory",
		`{"category":"knowledge-fragments","content":{"fact":"go maps are unordered"},"owner":"agent-1","importance":0.8}`))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)

	id, _ := data["id"].(string)
	assert.True(t, strings.HasPrefix(id, "knowledge-fragments_"), "id %q should carry the category prefix", id)
	assert.Equal(t, "knowledge-fragments", data["category"])

	// Hybrid category, so both backends took the write.
	assert.Equal(t, 1, fast.PutCalls())
	assert.Equal(t, 1, analytical.PutCalls())
	assert.True(t, fast.Has(id))
	assert.True(t, analytical.Has(id))
}

func TestMemoryHandler_HandleStore_OwnerFromContext(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	r := postJSON("/api/v1/memory", `{"category":"user-interaction","content":{"said":"hello"},"importance":0.4}`)
	r = r.WithContext(types.WithAgentID(r.Context(), "agent-9"))

	w := httptest.NewRecorder()
	h.HandleStore(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	data := resp.Data.(map[string]any)
	id := data["id"].(string)

	entry, err := h.broker.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "agent-9", entry.Owner)
}

func TestMemoryHandler_HandleStore_ExplicitOwnerWins(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	r := postJSON("/api/v1/memory", `{"category":"user-interaction","content":{"said":"hi"},"owner":"agent-2","importance":0.4}`)
	r = r.WithContext(types.WithAgentID(r.Context(), "agent-9"))

	w := httptest.NewRecorder()
	h.HandleStore(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	data := decodeEnvelope(t, w).Data.(map[string]any)
	entry, err := h.broker.Get(context.Background(), data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "agent-2", entry.Owner)
}

func TestMemoryHandler_HandleStore_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		request    func() *http.Request
		wantStatus int
	}{
		{
			name: "wrong method",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/api/v1/memory", nil)
			},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name: "wrong content type",
			request: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/v1/memory", strings.NewReader(`{}`))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown category",
			request: func() *http.Request {
				return postJSON("/api/v1/memory", `{"category":"quantum-flux","content":{"x":1},"importance":0.5}`)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "empty content",
			request: func() *http.Request {
				return postJSON("/api/v1/memory", `{"category":"system-state","importance":0.5}`)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown field",
			request: func() *http.Request {
				return postJSON("/api/v1/memory", `{"category":"system-state","content":{"x":1},"priority":3}`)
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, fast, analytical := newMemoryHandler(t)

			w := httptest.NewRecorder()
			h.HandleStore(w, tt.request())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrCodeValidation), resp.Error.Code)
			assert.Equal(t, 0, fast.PutCalls())
			assert.Equal(t, 0, analytical.PutCalls())
		})
	}
}

func TestMemoryHandler_HandleQuery(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	storeEntry(t, h, `{"category":"knowledge-fragments","content":{"fact":"minor"},"owner":"agent-1","importance":0.2}`)
	storeEntry(t, h, `{"category":"knowledge-fragments","content":{"fact":"major"},"owner":"agent-1","importance":0.9}`)

	w := httptest.NewRecorder()
	h.HandleQuery(w, postJSON("/api/v1/memory/query", `{"categories":["knowledge-fragments"]}`))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["count"])

	entries := data["entries"].([]any)
	require.Len(t, entries, 2)

	// Importance descending.
	first := entries[0].(map[string]any)
	second := entries[1].(map[string]any)
	assert.Equal(t, 0.9, first["importance"])
	assert.Equal(t, 0.2, second["importance"])
}

func TestMemoryHandler_HandleQuery_DefaultsLimit(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	w := httptest.NewRecorder()
	h.HandleQuery(w, postJSON("/api/v1/memory/query", `{}`))

	assert.Equal(t, http.StatusOK, w.Code, "an omitted limit should default, not fail validation")
}

func TestMemoryHandler_HandleQuery_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "limit over ceiling", body: `{"limit":5000}`},
		{name: "negative limit", body: `{"limit":-1}`},
		{name: "unknown category", body: `{"categories":["warp-core"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newMemoryHandler(t)

			w := httptest.NewRecorder()
			h.HandleQuery(w, postJSON("/api/v1/memory/query", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeEnvelope(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrCodeValidation), resp.Error.Code)
		})
	}
}

func TestMemoryHandler_HandleGet(t *testing.T) {
	h, _, _ := newMemoryHandler(t)
	id := storeEntry(t, h, `{"category":"system-state","content":{"load":0.7},"importance":0.5}`)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/memory/"+id, nil)
	r.SetPathValue("id", id)

	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, id, data["id"])
	assert.Equal(t, "system-state", data["category"])
}

func TestMemoryHandler_HandleGet_PathFallback(t *testing.T) {
	h, _, _ := newMemoryHandler(t)
	id := storeEntry(t, h, `{"category":"system-state","content":{"load":0.1},"importance":0.5}`)

	// No mux pattern, so PathValue is empty and the path prefix is used.
	r := httptest.NewRequest(http.MethodGet, "/api/v1/memory/"+id, nil)

	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestMemoryHandler_HandleGet_NotFound(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/memory/system-state_20250601_120000_deadbeef", nil)
	r.SetPathValue("id", "system-state_20250601_120000_deadbeef")

	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeEnvelope(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrCodeNotFound), resp.Error.Code)
}

func TestMemoryHandler_HandleAgentSummary(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	storeEntry(t, h, `{"category":"user-interaction","content":{"said":"hi"},"owner":"agent-1","importance":0.5}`)
	storeEntry(t, h, `{"category":"knowledge-fragments","content":{"fact":"x"},"owner":"agent-1","importance":0.7}`)
	storeEntry(t, h, `{"category":"user-interaction","content":{"said":"yo"},"owner":"agent-2","importance":0.3}`)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/agent-1/memory", nil)
	r.SetPathValue("id", "agent-1")

	w := httptest.NewRecorder()
	h.HandleAgentSummary(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "agent-1", data["agent_id"])
	assert.Equal(t, float64(2), data["total_entries"])

	byCategory := data["by_category"].(map[string]any)
	assert.Equal(t, float64(1), byCategory["user-interaction"])
	assert.Equal(t, float64(1), byCategory["knowledge-fragments"])
}

func TestMemoryHandler_HandleAgentSummary_MissingID(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents//memory", nil)

	w := httptest.NewRecorder()
	h.HandleAgentSummary(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoryHandler_HandleAnalytics(t *testing.T) {
	h, _, _ := newMemoryHandler(t)

	storeEntry(t, h, `{"category":"user-interaction","content":{"said":"hi"},"owner":"agent-1","importance":0.5}`)
	storeEntry(t, h, `{"category":"system-state","content":{"load":0.9},"importance":0.6}`)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/memory", nil)

	w := httptest.NewRecorder()
	h.HandleAnalytics(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeEnvelope(t, w)
	data := resp.Data.(map[string]any)

	byCategory := data["by_category"].(map[string]any)
	assert.Equal(t, float64(1), byCategory["user-interaction"])
	assert.Equal(t, float64(1), byCategory["system-state"])
	assert.NotEmpty(t, data["generated_at"])
}
