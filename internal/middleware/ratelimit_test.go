package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/collegecue/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/channel/g", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	// 50/min gives a burst of max(50/10, 5) = 5
	rl := NewRateLimiter(50, nil)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("10.0.0.1:1234"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.1:9999"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same host on another port shares the bucket")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded, please try again later"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")
}

func TestNewRateLimiter_Burst(t *testing.T) {
	tests := []struct {
		perMin    int
		wantBurst int
	}{
		{10, 5},
		{50, 5},
		{60, 6},
		{600, 60},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantBurst, NewRateLimiter(tt.perMin, nil).burst, "perMin=%d", tt.perMin)
	}
}

func TestByRemoteAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1", ByRemoteAddr(requestFrom("10.0.0.1:1234")))
	assert.Equal(t, "unix-socket", ByRemoteAddr(requestFrom("unix-socket")))
}

func TestByService(t *testing.T) {
	req := requestFrom("10.0.0.1:1234")
	assert.Equal(t, "10.0.0.1", ByService(req))

	req = req.WithContext(context.WithValue(req.Context(), auth.ServiceKey, "job-portal"))
	assert.Equal(t, "svc:job-portal", ByService(req))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(60, nil)
	handler := rl.Middleware(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1"))
	require.Equal(t, 1, rl.Len())

	// a limiter that has just spent a token is kept
	rl.Cleanup()
	assert.Equal(t, 1, rl.Len())

	// an untouched limiter is at full burst and is dropped
	rl.getLimiter("idle")
	require.Equal(t, 2, rl.Len())
	rl.Cleanup()
	assert.Equal(t, 1, rl.Len())
}
