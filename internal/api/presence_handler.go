package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/observer/collegecue/internal/domain"
	"github.com/observer/collegecue/internal/presence"
)

// PresenceHandler handles presence updates sent on login, logout and activity
type PresenceHandler struct {
	registry *presence.Registry
	logger   *slog.Logger
}

func NewPresenceHandler(registry *presence.Registry, logger *slog.Logger) *PresenceHandler {
	return &PresenceHandler{
		registry: registry,
		logger:   logger,
	}
}

type identityRequest struct {
	Identity string `json:"identity"`
}

// SetOnline handles POST /presence/online
func (h *PresenceHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.registry.SetOnline)
}

// SetOffline handles POST /presence/offline
func (h *PresenceHandler) SetOffline(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.registry.SetOffline)
}

// Touch handles POST /presence/touch
func (h *PresenceHandler) Touch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, h.registry.Touch)
}

// Get handles GET /presence/{identity}
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.registry.Get(r.PathValue("identity"))
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrPresenceNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Forget handles DELETE /presence/{identity}, used when an account is deleted
func (h *PresenceHandler) Forget(w http.ResponseWriter, r *http.Request) {
	err := h.registry.Forget(r.Context(), r.PathValue("identity"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrIdentityRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPresenceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("forget presence failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete presence record")
	}
}

// update applies op and replies with the resulting record, or 204 when the
// identity has none
func (h *PresenceHandler) update(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, identity string) error) {
	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), req.Identity); err != nil {
		if errors.Is(err, domain.ErrIdentityRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("presence update failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store presence")
		return
	}

	rec, ok := h.registry.Get(req.Identity)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
