package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/observer/collegecue/internal/api"
	"github.com/observer/collegecue/internal/auth"
	"github.com/observer/collegecue/internal/config"
	"github.com/observer/collegecue/internal/database"
	"github.com/observer/collegecue/internal/mail"
	"github.com/observer/collegecue/internal/metrics"
	"github.com/observer/collegecue/internal/middleware"
	"github.com/observer/collegecue/internal/notify"
	"github.com/observer/collegecue/internal/presence"
	"github.com/observer/collegecue/internal/pubsub"
	"github.com/observer/collegecue/internal/server"
	"github.com/observer/collegecue/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New()

	// Presence store (optional)
	var (
		db    *database.DB
		store presence.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = database.New(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to database")

		if err := database.EnsureSchema(ctx, db, cfg.MigrationsDir); err != nil {
			slog.Error("failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		store = database.NewPresenceRepository(db)
	} else {
		slog.Warn("DATABASE_URL not set - presence is kept in memory only")
	}

	// Initialize PubSub (in-memory for single instance, Redis for a cluster)
	var ps pubsub.PubSub
	switch cfg.PubSubType {
	case "redis":
		ps, err = pubsub.NewRedisPubSub(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	default:
		ps = pubsub.NewMemoryPubSub(logger)
	}
	defer ps.Close()

	// Presence registry, hydrated from the store and shared with other instances
	registry := presence.NewRegistry(store, m, logger)
	if err := registry.Load(ctx); err != nil {
		slog.Error("failed to load presence records", "error", err)
		os.Exit(1)
	}

	instanceID := uuid.NewString()
	presenceSub, err := registry.Replicate(context.Background(), ps, instanceID)
	if err != nil {
		slog.Error("failed to replicate presence", "error", err)
		os.Exit(1)
	}
	defer presenceSub.Unsubscribe()

	// Channel hub, fed by the notifications topic
	hub := websocket.NewHub(m, logger)
	hubSub, err := hub.Attach(context.Background(), ps)
	if err != nil {
		slog.Error("failed to attach hub", "error", err)
		os.Exit(1)
	}
	defer hubSub.Unsubscribe()
	wsHandler := websocket.NewHandler(hub, cfg.AllowedOrigins, logger)

	// Email fallback
	var mailer notify.Mailer
	if cfg.SMTPHost != "" {
		mailer = mail.NewSMTPMailer(mail.Config{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			User:       cfg.SMTPUser,
			Password:   cfg.SMTPPassword,
			From:       cfg.SMTPFrom,
			MaxRetries: cfg.EmailMaxRetries,
		}, logger)
	} else {
		slog.Warn("SMTP_HOST not set - fallback emails are logged, not sent")
		mailer = mail.NewLogMailer(logger)
	}

	dispatcher := notify.NewDispatcher(registry, websocket.NewPubSubBroadcaster(ps), mailer, m, logger)

	// Service tokens (validate() requires a key outside development)
	var tokens *auth.TokenService
	if cfg.JWTSigningKey != "" {
		tokens, err = auth.NewTokenService(cfg.JWTSigningKey, 0)
		if err != nil {
			slog.Error("failed to create token service", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("JWT_SIGNING_KEY not set - collaborator endpoints are unauthenticated")
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	channelLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, middleware.ByRemoteAddr)
	serviceLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMin*10, middleware.ByService)
	go channelLimiter.Run(runCtx, 5*time.Minute)
	go serviceLimiter.Run(runCtx, 5*time.Minute)

	// Create and start server
	deps := &server.Dependencies{
		PubSub:              ps,
		Tokens:              tokens,
		Metrics:             m,
		ChannelLimiter:      channelLimiter,
		ServiceLimiter:      serviceLimiter,
		PresenceHandler:     api.NewPresenceHandler(registry, logger),
		NotificationHandler: api.NewNotificationHandler(dispatcher, logger),
		ChannelHandler:      api.NewChannelHandler(hub),
		WSHandler:           wsHandler,
		Logger:              logger,
	}
	// A nil *DB must not become a non-nil interface
	if db != nil {
		deps.DB = db
	}

	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr, "instance", instanceID, "pubsub", cfg.PubSubType)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Hijacked channel connections are not tracked by Shutdown
	hub.CloseAll()

	slog.Info("server stopped")
}
