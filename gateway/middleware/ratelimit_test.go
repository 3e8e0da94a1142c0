package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"operations": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("operations")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/markets/x/operations", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestRateLimiterSeparatesRoutesAndClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"operations": {RatePerSecond: 1, Burst: 1},
		"queries":    {RatePerSecond: 1, Burst: 1},
	}, nil)
	ops := limiter.Middleware("operations")(okHandler())
	queries := limiter.Middleware("queries")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/distributors", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")

	for _, h := range []http.Handler{ops, queries} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/v1/distributors", nil)
	other.Header.Set("X-Real-IP", "10.0.0.9")
	res := httptest.NewRecorder()
	ops.ServeHTTP(res, other)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRateLimiterPassesUnknownKeys(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("unlisted")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, res.Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"q": {RatePerSecond: 1, Burst: 1}}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("a", RateLimit{})
	require.Len(t, limiter.visitors, 1)

	now = now.Add(2 * visitorIdleTTL)
	limiter.obtainLimiter("b", RateLimit{})
	require.Len(t, limiter.visitors, 1)
	require.Contains(t, limiter.visitors, "b")
}
