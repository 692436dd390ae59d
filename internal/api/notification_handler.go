package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/observer/collegecue/internal/domain"
	"github.com/observer/collegecue/internal/notify"
	"github.com/observer/collegecue/internal/websocket"
)

// NotificationHandler accepts notification events from the CRUD services
type NotificationHandler struct {
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

func NewNotificationHandler(dispatcher *notify.Dispatcher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Dispatch handles POST /notifications
func (h *NotificationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var event domain.NotificationEvent
	if err := decodeJSON(w, r, &event); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), event)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, res)
	case errors.Is(err, domain.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmailDelivery):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   domain.ErrEmailDelivery.Error(),
			"channel": res.Channel,
			"group":   res.Group,
		})
	default:
		h.logger.Error("dispatch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch notification")
	}
}

// ChannelHandler lists the live groups of this instance
type ChannelHandler struct {
	hub *websocket.Hub
}

func NewChannelHandler(hub *websocket.Hub) *ChannelHandler {
	return &ChannelHandler{hub: hub}
}

type channelInfo struct {
	Group   string `json:"group"`
	Members int    `json:"members"`
}

// List handles GET /channels
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	groups := h.hub.Groups()
	channels := make([]channelInfo, 0, len(groups))
	for _, g := range groups {
		// a group may empty out between the two calls
		if n := h.hub.MemberCount(g); n > 0 {
			channels = append(channels, channelInfo{Group: g, Members: n})
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channels": channels,
		"count":    len(channels),
	})
}
