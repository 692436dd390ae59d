package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
)

// Handler handles channel upgrade requests on /channel/{group}
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a channel handler. An empty allowedOrigins list accepts
// any origin.
func NewHandler(hub *Hub, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request, joins the group named in the path and
// holds the connection until the peer disconnects. Group names are
// lower-cased to match domain.GroupName.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := strings.ToLower(r.PathValue("group"))

	client, err := h.hub.Join(group, AcceptorFunc(func() (Conn, error) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}))
	if err != nil {
		// Upgrade has already replied to the peer
		h.logger.Error("websocket upgrade failed", "group", group, "error", err)
		return
	}
	defer h.hub.Leave(group, client)

	// The request context is tied to the HTTP exchange, not to the upgraded
	// connection, so the read loop gets its own
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.ReadPump(ctx) // Block here until client disconnects
}
