package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/observer/collegecue/internal/api"
	"github.com/observer/collegecue/internal/auth"
	"github.com/observer/collegecue/internal/config"
	"github.com/observer/collegecue/internal/metrics"
	"github.com/observer/collegecue/internal/middleware"
	"github.com/observer/collegecue/internal/websocket"
)

// HealthChecker is anything /readyz should ping, normally the database
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB                  HealthChecker // optional
	PubSub              HealthChecker
	Tokens              *auth.TokenService
	Metrics             *metrics.Metrics
	ChannelLimiter      *middleware.RateLimiter
	ServiceLimiter      *middleware.RateLimiter
	PresenceHandler     *api.PresenceHandler
	NotificationHandler *api.NotificationHandler
	ChannelHandler      *api.ChannelHandler
	WSHandler           *websocket.Handler
	Logger              *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      Handler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the routed and wrapped handler tree
func Handler(cfg *config.Config, deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Register routes
	registerRoutes(mux, deps)

	// Wrap with middleware
	return chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies the database and the relay transport
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := []struct {
			name string
			dep  HealthChecker
		}{
			{"database", deps.DB},
			{"pubsub", deps.PubSub},
		}
		for _, c := range checks {
			if c.dep == nil {
				continue
			}
			if err := c.dep.Health(r.Context()); err != nil {
				deps.Logger.Warn("not ready", "dependency", c.name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready","error":"` + c.name + ` unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	// =========================================================================
	// Collaborator routes (service token)
	// =========================================================================
	protect := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if deps.ServiceLimiter != nil {
			handler = deps.ServiceLimiter.Middleware(handler)
		}
		return auth.Middleware(deps.Tokens)(handler)
	}

	mux.Handle("POST /presence/online", protect(deps.PresenceHandler.SetOnline))
	mux.Handle("POST /presence/offline", protect(deps.PresenceHandler.SetOffline))
	mux.Handle("POST /presence/touch", protect(deps.PresenceHandler.Touch))
	mux.Handle("GET /presence/{identity}", protect(deps.PresenceHandler.Get))
	mux.Handle("DELETE /presence/{identity}", protect(deps.PresenceHandler.Forget))

	mux.Handle("POST /notifications", protect(deps.NotificationHandler.Dispatch))
	mux.Handle("GET /channels", protect(deps.ChannelHandler.List))

	// =========================================================================
	// Channel route (browsers)
	// =========================================================================
	var channel http.Handler = deps.WSHandler
	if deps.ChannelLimiter != nil {
		channel = deps.ChannelLimiter.Middleware(channel)
	}
	mux.Handle("GET /channel/{group}", channel)
	mux.Handle("GET /ws/{group}", channel)
}
