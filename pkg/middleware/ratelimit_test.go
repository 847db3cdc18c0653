package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/rbac"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Hour,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		ok, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		if ok {
			allowedCount++
		}
	}
	assert.Equal(t, config.RequestsPerWindow+config.BurstSize, allowedCount)
	assert.Zero(t, limiter.Remaining("user:1"))

	// keys do not share a bucket
	ok, err := limiter.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, limiter.Limit())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond})
	_, _ = limiter.Allow(context.Background(), "k")

	time.Sleep(5 * time.Millisecond)
	limiter.Cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.buckets)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("rampart:ratelimit:user:1"))

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.Reset(ctx, "user:1"))
	assert.False(t, mr.Exists("rampart:ratelimit:user:1"))

	mr.Close()
	_, err = limiter.Allow(ctx, "user:1")
	assert.Error(t, err)
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func (s *stubLimiter) Limit() int { return 5 }

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	t.Run("keys principals and anonymous callers separately", func(t *testing.T) {
		principals, anonymous := &stubLimiter{allow: true}, &stubLimiter{allow: true}
		h := NewRateLimitMiddleware(principals, anonymous, false, nil).Handler(ok)

		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(rbac.WithPrincipal(req.Context(), rbac.User(4)))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))

		req = httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, []string{"user:4"}, principals.keys)
		assert.Equal(t, []string{"ip:10.0.0.1"}, anonymous.keys)
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		l := &stubLimiter{}
		rr := httptest.NewRecorder()
		NewRateLimitMiddleware(l, l, false, nil).Handler(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	})

	t.Run("limiter errors", func(t *testing.T) {
		l := &stubLimiter{err: errors.New("down")}

		rr := httptest.NewRecorder()
		NewRateLimitMiddleware(l, l, true, nil).Handler(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		NewRateLimitMiddleware(l, l, false, nil).Handler(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))
}
