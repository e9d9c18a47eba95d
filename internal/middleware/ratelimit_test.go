package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "public:10.0.0.1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "public:10.0.0.2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "public:10.0.0.2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "public:10.0.0.3", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "public:10.0.0.4", 5)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewRateLimiter()
		now := time.Now()
		limiter.now = func() time.Time { return now }

		limiter.Check(ctx, "public:10.0.0.6", 2)
		now = now.Add(30 * time.Second)
		limiter.Check(ctx, "public:10.0.0.6", 2)

		allowed, _, resetAt := limiter.Check(ctx, "public:10.0.0.6", 2)
		assert.False(t, allowed)
		assert.Equal(t, now.Add(30*time.Second).Unix(), resetAt)

		now = now.Add(31 * time.Second)
		allowed, remaining, _ := limiter.Check(ctx, "public:10.0.0.6", 2)
		assert.True(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("idle keys are evicted", func(t *testing.T) {
		limiter := NewRateLimiter()
		now := time.Now()
		limiter.now = func() time.Time { return now }

		limiter.Check(ctx, "public:10.0.0.7", 5)
		now = now.Add(10 * time.Minute)
		limiter.Check(ctx, "public:10.0.0.8", 5)

		_, tracked := limiter.windows["public:10.0.0.7"]
		assert.False(t, tracked)
	})

	t.Run("returns reset time", func(t *testing.T) {
		limiter := NewRateLimiter()

		_, _, resetAt := limiter.Check(ctx, "public:10.0.0.5", 10)
		assert.Greater(t, resetAt, time.Now().Unix())
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("sets rate limit headers", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewRateLimiter(), 100, "public")
		handler := mw.Handler(okHandler())

		req := httptest.NewRequest("POST", "/api/license/check", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewRateLimiter(), 2, "public")
		handler := mw.Handler(okHandler())

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("POST", "/api/license/activate", nil)
			req.RemoteAddr = "198.51.100.9:4000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}

		req := httptest.NewRequest("POST", "/api/license/activate", nil)
		req.RemoteAddr = "198.51.100.9:4001"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["code"])
	})

	t.Run("limits each client ip independently", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewRateLimiter(), 1, "public")
		handler := mw.Handler(okHandler())

		first := httptest.NewRequest("GET", "/api/license/status", nil)
		first.RemoteAddr = "203.0.113.1:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, first)
		assert.Equal(t, http.StatusOK, rec.Code)

		second := httptest.NewRequest("GET", "/api/license/status", nil)
		second.RemoteAddr = "203.0.113.2:40000"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, second)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rotating forwarded header does not reset the window", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewRateLimiter(), 3, "public")
		handler := mw.Handler(okHandler())

		codes := map[int]int{}
		for i := 0; i < 10; i++ {
			req := httptest.NewRequest("GET", "/api/license/status", nil)
			req.RemoteAddr = "203.0.113.7:40000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes[rec.Code]++
		}
		assert.Equal(t, map[int]int{http.StatusOK: 3, http.StatusTooManyRequests: 7}, codes)
	})

	t.Run("uses default limit when limit is zero", func(t *testing.T) {
		mw := NewRateLimitMiddleware(NewRateLimiter(), 0, "public")
		handler := mw.Handler(okHandler())

		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter := NewRedisRateLimiter(client)
	allowed, remaining, resetAt := limiter.Check(context.Background(), "public:10.0.0.1", 10)

	assert.True(t, allowed)
	assert.Equal(t, 9, remaining)
	assert.Greater(t, resetAt, time.Now().Unix())
}
