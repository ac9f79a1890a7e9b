package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/api"
	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/types"
)

// MemoryHandler serves the memory store, query, and analytics endpoints on
// top of the broker facade.
type MemoryHandler struct {
	broker *broker.Broker
	logger *zap.Logger
}

// NewMemoryHandler creates a memory handler.
func NewMemoryHandler(b *broker.Broker, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{
		broker: b,
		logger: logger,
	}
}

// HandleStore stores one memory entry and returns its receipt.
// @Summary Store a memory entry
// @Accept json
// @Produce json
// @Param request body api.StoreMemoryRequest true "Entry to store"
// @Success 201 {object} Response "Store receipt"
// @Failure 400 {object} Response "Invalid entry"
// @Failure 503 {object} Response "No backend accepted the write"
// @Security BearerAuth
// @Router /api/v1/memory [post]
func (h *MemoryHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.StoreMemoryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	owner := req.Owner
	if owner == "" {
		// Authenticated callers own what they store unless they say otherwise.
		if agentID, ok := types.AgentID(r.Context()); ok {
			owner = agentID
		}
	}

	receipt, err := h.broker.Store(r.Context(), req.Category, req.Content, owner, req.Importance, req.Metadata)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccessStatus(w, r, http.StatusCreated, receipt)
}

// HandleQuery retrieves entries matching a filter, newest and most important
// first.
// @Summary Query memory entries
// @Accept json
// @Produce json
// @Param request body api.QueryMemoryRequest true "Retrieval filter"
// @Success 200 {object} Response "Matching entries"
// @Failure 400 {object} Response "Invalid query"
// @Security BearerAuth
// @Router /api/v1/memory/query [post]
func (h *MemoryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var q types.MemoryQuery
	if err := DecodeJSONBody(w, r, &q, h.logger); err != nil {
		return
	}
	if q.Limit == 0 {
		q.Limit = types.DefaultQueryLimit
	}

	entries, err := h.broker.Retrieve(r.Context(), &q)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleGet reads one entry by id.
// @Summary Get a memory entry
// @Produce json
// @Param id path string true "Entry id"
// @Success 200 {object} Response "The entry"
// @Failure 404 {object} Response "Unknown id"
// @Security BearerAuth
// @Router /api/v1/memory/{id} [get]
func (h *MemoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		id = strings.TrimPrefix(r.URL.Path, "/api/v1/memory/")
	}
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrCodeValidation, "entry id is required", h.logger)
		return
	}

	entry, err := h.broker.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, entry)
}

// HandleAgentSummary aggregates everything stored for one agent.
// @Summary Per-agent memory summary
// @Produce json
// @Param id path string true "Agent id"
// @Success 200 {object} Response "Summary"
// @Failure 400 {object} Response "Missing agent id"
// @Security BearerAuth
// @Router /api/v1/agents/{id}/memory [get]
func (h *MemoryHandler) HandleAgentSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	agentID := r.PathValue("id")
	if agentID == "" {
		trimmed := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
		agentID = strings.TrimSuffix(trimmed, "/memory")
	}

	summary, err := h.broker.AgentMemorySummary(r.Context(), agentID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, summary)
}

// HandleAnalytics reports the system-wide memory distribution.
// @Summary System memory analytics
// @Produce json
// @Success 200 {object} Response "Analytics snapshot"
// @Security BearerAuth
// @Router /api/v1/analytics/memory [get]
func (h *MemoryHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	analytics, err := h.broker.SystemMemoryAnalytics(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, analytics)
}
