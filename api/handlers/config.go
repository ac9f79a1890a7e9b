package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/api"
	"github.com/BaSui01/membroker/config"
	"github.com/BaSui01/membroker/types"
)

// defaultChangeLogLimit bounds GET /config/changes when no limit is given.
const defaultChangeLogLimit = 50

// ConfigHandler exposes the runtime configuration: reading the sanitized
// active config, changing hot-reloadable fields, reloading from disk, and
// rolling back to earlier versions.
type ConfigHandler struct {
	manager *config.HotReloadManager
	logger  *zap.Logger
}

// NewConfigHandler creates a config admin handler.
func NewConfigHandler(manager *config.HotReloadManager, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		manager: manager,
		logger:  logger,
	}
}

// HandleConfig serves the active configuration on GET and updates one field
// on PUT. Credential-bearing values are redacted in the GET response.
// @Summary Read or update runtime configuration
// @Accept json
// @Produce json
// @Success 200 {object} Response "Sanitized configuration"
// @Failure 400 {object} Response "Unknown or non-reloadable field"
// @Security BearerAuth
// @Router /api/v1/config [get]
// @Router /api/v1/config [put]
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteSuccess(w, r, map[string]any{
			"config":  h.manager.SanitizedConfig(),
			"version": h.manager.GetCurrentVersion(),
		})

	case http.MethodPut:
		if !ValidateContentType(w, r, h.logger) {
			return
		}

		var req api.UpdateConfigRequest
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
		if req.Path == "" {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrCodeValidation, "field path is required", h.logger)
			return
		}

		if err := h.manager.UpdateField(req.Path, req.Value); err != nil {
			WriteError(w, r, types.NewError(types.ErrCodeValidation, "config update rejected").WithCause(err), h.logger)
			return
		}

		h.logger.Info("config field updated via API", zap.String("path", req.Path))
		WriteSuccess(w, r, map[string]any{
			"path": req.Path,
			// Restart-bound fields are recorded but only apply next start.
			"hot_applied": config.IsHotReloadable(req.Path),
		})

	default:
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
	}
}

// HandleReload re-reads the configuration file and applies it.
// @Summary Reload configuration from disk
// @Produce json
// @Success 200 {object} Response "New version"
// @Failure 500 {object} Response "Reload failed, previous config kept"
// @Security BearerAuth
// @Router /api/v1/config/reload [post]
func (h *ConfigHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	if err := h.manager.ReloadFromFile(); err != nil {
		WriteError(w, r, types.NewError(types.ErrCodeInternal, "config reload failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, map[string]any{
		"version": h.manager.GetCurrentVersion(),
	})
}

// HandleFields lists the fields the API may change and whether a change
// needs a restart.
// @Summary List hot-reloadable fields
// @Produce json
// @Success 200 {object} Response "Field registry"
// @Security BearerAuth
// @Router /api/v1/config/fields [get]
func (h *ConfigHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	WriteSuccess(w, r, config.GetHotReloadableFields())
}

// HandleChanges returns the most recent configuration changes in the order
// they were applied. The limit query parameter bounds the result.
// @Summary Configuration change log
// @Produce json
// @Param limit query int false "Maximum changes returned" default(50)
// @Success 200 {object} Response "Recent changes"
// @Security BearerAuth
// @Router /api/v1/config/changes [get]
func (h *ConfigHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}

	limit := defaultChangeLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrCodeValidation, "limit must be a positive integer", h.logger)
			return
		}
		limit = parsed
	}

	changes := h.manager.GetChangeLog(limit)
	WriteSuccess(w, r, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

// HandleRollback restores an earlier configuration version. A zero or
// omitted version targets the previous snapshot.
// @Summary Roll back configuration
// @Accept json
// @Produce json
// @Success 200 {object} Response "Restored version"
// @Failure 400 {object} Response "Unknown version or empty history"
// @Security BearerAuth
// @Router /api/v1/config/rollback [post]
func (h *ConfigHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RollbackConfigRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	var err error
	if req.Version > 0 {
		err = h.manager.RollbackToVersion(req.Version)
	} else {
		err = h.manager.Rollback()
	}
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrCodeValidation, "rollback rejected").WithCause(err), h.logger)
		return
	}

	h.logger.Info("config rolled back via API", zap.Int("requested_version", req.Version))
	WriteSuccess(w, r, map[string]any{
		"restored": true,
	})
}
