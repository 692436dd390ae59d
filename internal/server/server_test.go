package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/collegecue/internal/api"
	"github.com/observer/collegecue/internal/auth"
	"github.com/observer/collegecue/internal/config"
	"github.com/observer/collegecue/internal/mail"
	"github.com/observer/collegecue/internal/metrics"
	"github.com/observer/collegecue/internal/middleware"
	"github.com/observer/collegecue/internal/notify"
	"github.com/observer/collegecue/internal/presence"
	"github.com/observer/collegecue/internal/pubsub"
	"github.com/observer/collegecue/internal/websocket"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDB struct{ err error }

func (db fakeDB) Health(ctx context.Context) error { return db.err }

type app struct {
	handler  http.Handler
	hub      *websocket.Hub
	registry *presence.Registry
	tokens   *auth.TokenService
}

func newApp(t *testing.T, cfg *config.Config, db HealthChecker, withAuth bool) *app {
	t.Helper()
	return newAppWithPubSub(t, cfg, db, pubsub.NewMemoryPubSub(testLogger()), withAuth)
}

func newAppWithPubSub(t *testing.T, cfg *config.Config, db HealthChecker, ps *pubsub.MemoryPubSub, withAuth bool) *app {
	t.Helper()
	logger := testLogger()
	m := metrics.New()
	t.Cleanup(func() { ps.Close() })

	hub := websocket.NewHub(m, logger)
	t.Cleanup(hub.CloseAll)
	sub, err := hub.Attach(context.Background(), ps)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })

	registry := presence.NewRegistry(nil, m, logger)
	dispatcher := notify.NewDispatcher(registry, websocket.NewPubSubBroadcaster(ps), mail.NewLogMailer(logger), m, logger)

	var tokens *auth.TokenService
	if withAuth {
		tokens, err = auth.NewTokenService(testKey, time.Hour)
		require.NoError(t, err)
	}

	deps := &Dependencies{
		DB:                  db,
		PubSub:              ps,
		Tokens:              tokens,
		Metrics:             m,
		ChannelLimiter:      middleware.NewRateLimiter(600, middleware.ByRemoteAddr),
		ServiceLimiter:      middleware.NewRateLimiter(600, middleware.ByService),
		PresenceHandler:     api.NewPresenceHandler(registry, logger),
		NotificationHandler: api.NewNotificationHandler(dispatcher, logger),
		ChannelHandler:      api.NewChannelHandler(hub),
		WSHandler:           websocket.NewHandler(hub, cfg.AllowedOrigins, logger),
		Logger:              logger,
	}
	return &app{handler: Handler(cfg, deps), hub: hub, registry: registry, tokens: tokens}
}

func devConfig() *config.Config {
	return &config.Config{ServerAddr: ":0", Env: "development"}
}

func serve(h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestHealthz(t *testing.T) {
	a := newApp(t, devConfig(), nil, false)

	rec := serve(a.handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		db         HealthChecker
		wantStatus int
	}{
		{"no database", nil, http.StatusOK},
		{"healthy database", fakeDB{}, http.StatusOK},
		{"database down", fakeDB{err: errors.New("refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t, devConfig(), tt.db, false)
			rec := serve(a.handler, http.MethodGet, "/readyz", "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestReadyz_PubSubClosed(t *testing.T) {
	ps := pubsub.NewMemoryPubSub(testLogger())
	a := newAppWithPubSub(t, devConfig(), nil, ps, false)
	require.NoError(t, ps.Close())

	rec := serve(a.handler, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","error":"pubsub unavailable"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	a := newApp(t, devConfig(), nil, false)

	serve(a.handler, http.MethodPost, "/notifications", `{"recipient":"carol@co.com","message":"m"}`, nil)

	rec := serve(a.handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `notify_dispatch_total{channel="email"} 1`)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestCollaboratorRoutesRequireToken(t *testing.T) {
	a := newApp(t, devConfig(), nil, true)

	rec := serve(a.handler, http.MethodPost, "/presence/online", `{"identity":"bob@co.com"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, a.registry.IsOnline("bob@co.com"))

	token, _, err := a.tokens.Issue("job-portal")
	require.NoError(t, err)
	header := http.Header{"Authorization": {"Bearer " + token}}

	rec = serve(a.handler, http.MethodPost, "/presence/online", `{"identity":"bob@co.com"}`, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, a.registry.IsOnline("bob@co.com"))

	rec = serve(a.handler, http.MethodGet, "/channels", "", header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProbesAreUnauthenticated(t *testing.T) {
	a := newApp(t, devConfig(), nil, true)

	assert.Equal(t, http.StatusOK, serve(a.handler, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(a.handler, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(a.handler, http.MethodGet, "/metrics", "", nil).Code)
}

// =============================================================================
// Middleware Tests
// =============================================================================

func TestRequestID(t *testing.T) {
	a := newApp(t, devConfig(), nil, false)

	rec := serve(a.handler, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(a.handler, http.MethodGet, "/healthz", "", http.Header{"X-Request-Id": {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	long := strings.Repeat("x", maxRequestIDLen+1)
	rec = serve(a.handler, http.MethodGet, "/healthz", "", http.Header{"X-Request-Id": {long}})
	assert.NotEqual(t, long, rec.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	prod := &config.Config{Env: "production", AllowedOrigins: []string{"https://collegecue.com"}}
	a := newApp(t, prod, nil, false)

	rec := serve(a.handler, http.MethodOptions, "/notifications", "", http.Header{"Origin": {"https://collegecue.com"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://collegecue.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(a.handler, http.MethodOptions, "/notifications", "", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	dev := newApp(t, devConfig(), nil, false)
	rec = serve(dev.handler, http.MethodGet, "/healthz", "", http.Header{"Origin": {"http://192.168.1.5:5173"}})
	assert.Equal(t, "http://192.168.1.5:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := serve(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := chainMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mw("a"), mw("b"), mw("c"))
	serve(h, http.MethodGet, "/", "", nil)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

// =============================================================================
// End-to-end Tests
// =============================================================================

func TestChannelThroughMiddleware(t *testing.T) {
	a := newApp(t, devConfig(), nil, false)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	group := "notifications_bob_at_co_dot_com"
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + group
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.hub.MemberCount(group) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := serve(a.handler, http.MethodPost, "/presence/online", `{"identity":"bob@co.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a.handler, http.MethodPost, "/notifications", `{"recipient":"bob@co.com","message":"status updated"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"channel":"live","group":"notifications_bob_at_co_dot_com"}`, rec.Body.String())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"status updated"}`, string(data))
}

func TestMixedCaseAddressReachesLiveChannel(t *testing.T) {
	a := newApp(t, devConfig(), nil, false)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications_Bob_at_Co_dot_com"
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	group := "notifications_bob_at_co_dot_com"
	require.Eventually(t, func() bool { return a.hub.MemberCount(group) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := serve(a.handler, http.MethodPost, "/presence/online", `{"identity":"Bob@Co.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(a.handler, http.MethodPost, "/notifications", `{"recipient":"Bob@Co.com","message":"shortlisted"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"channel":"live","group":"notifications_bob_at_co_dot_com"}`, rec.Body.String())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"shortlisted"}`, string(data))
}
