package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/broker"
	"github.com/BaSui01/membroker/retention"
	"github.com/BaSui01/membroker/types"
)

// StatusHandler serves the broker status snapshot and the on-demand
// maintenance trigger.
type StatusHandler struct {
	broker *broker.Broker
	logger *zap.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(b *broker.Broker, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		broker: b,
		logger: logger,
	}
}

// HandleStatus reports backend health, cache stats, routing bias, and the
// last maintenance cycle.
// @Summary Broker status
// @Produce json
// @Success 200 {object} Response "Status snapshot"
// @Security BearerAuth
// @Router /api/v1/status [get]
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	WriteSuccess(w, r, h.broker.Status(r.Context()))
}

// HandleMaintenance runs one maintenance cycle now and reports what it did.
// Only one cycle runs at a time; triggering while one is in flight is a 409.
// @Summary Trigger a maintenance cycle
// @Produce json
// @Success 200 {object} Response "Cycle result"
// @Failure 409 {object} Response "A cycle is already running"
// @Security BearerAuth
// @Router /api/v1/maintenance/run [post]
func (h *StatusHandler) HandleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	result, err := h.broker.RunMaintenanceNow(r.Context())
	if errors.Is(err, retention.ErrCycleInProgress) {
		WriteErrorMessage(w, r, http.StatusConflict, types.ErrCodeValidation, "maintenance cycle already in progress", h.logger)
		return
	}
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, result)
}
