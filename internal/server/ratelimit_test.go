package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type limiterHarness struct {
	rl  *RateLimiter
	now time.Time
}

// newLimiter builds a limiter on a manual clock. rps is tiny so buckets
// never refill unless a test moves the clock.
func newLimiter(burst, factor, maxTracked int) *limiterHarness {
	h := &limiterHarness{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	h.rl = NewRateLimiter(RateLimitOptions{
		RPS:        0.001,
		Burst:      burst,
		IPFactor:   factor,
		MaxTracked: maxTracked,
		Idle:       time.Minute,
	}, zap.NewNop())
	h.rl.now = func() time.Time { return h.now }
	return h
}

func TestRateLimitSessionsShareAnAddress(t *testing.T) {
	h := newLimiter(2, 3, 100)
	office := "203.0.113.10"
	alice, bob, carol, dave := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()

	assert.True(t, h.rl.Allow(office, alice))
	assert.True(t, h.rl.Allow(office, alice))
	assert.False(t, h.rl.Allow(office, alice), "alice spent her burst")

	assert.True(t, h.rl.Allow(office, bob), "bob is not starved by alice")
	assert.True(t, h.rl.Allow(office, bob))
	assert.True(t, h.rl.Allow(office, carol))
	assert.True(t, h.rl.Allow(office, carol))

	assert.False(t, h.rl.Allow(office, dave), "the address allowance is used up")
	assert.False(t, h.rl.Allow(office, ""))
	assert.True(t, h.rl.Allow("198.51.100.4", dave), "other addresses are unaffected")
}

func TestRateLimitDeniedRequestsAreNotCharged(t *testing.T) {
	h := newLimiter(1, 2, 100)
	ip := "203.0.113.20"
	greedy, quiet := uuid.NewString(), uuid.NewString()

	require.True(t, h.rl.Allow(ip, greedy))
	for i := 0; i < 5; i++ {
		require.False(t, h.rl.Allow(ip, greedy))
	}
	assert.True(t, h.rl.Allow(ip, quiet), "refusals left the shared bucket alone")
}

func TestRateLimitAnonymousRequestsUseTheirAddress(t *testing.T) {
	h := newLimiter(1, 5, 100)
	ip := "203.0.113.30"

	assert.True(t, h.rl.Allow(ip, ""))
	assert.False(t, h.rl.Allow(ip, ""))
	assert.True(t, h.rl.Allow(ip, uuid.NewString()), "a session gets its own bucket")
	assert.True(t, h.rl.Allow("203.0.113.31", ""))
}

func TestRateLimitRefills(t *testing.T) {
	h := newLimiter(1, 1, 100)
	h.rl.opts.RPS = 1

	require.True(t, h.rl.Allow("203.0.113.40", ""))
	require.False(t, h.rl.Allow("203.0.113.40", ""))
	h.now = h.now.Add(time.Second)
	assert.True(t, h.rl.Allow("203.0.113.40", ""))
}

// Each anonymous address holds two buckets, so a capacity of four keeps
// two addresses and a third pushes out the least recent.
func TestRateLimitLRUEviction(t *testing.T) {
	h := newLimiter(1, 1, 4)

	require.True(t, h.rl.Allow("10.0.0.1", ""))
	require.False(t, h.rl.Allow("10.0.0.1", ""))
	require.True(t, h.rl.Allow("10.0.0.2", ""))
	require.True(t, h.rl.Allow("10.0.0.3", ""))
	assert.Equal(t, 4, h.rl.Len())

	assert.True(t, h.rl.Allow("10.0.0.1", ""), "evicted address starts over")
	assert.False(t, h.rl.Allow("10.0.0.3", ""), "recent address is still tracked")
}

func TestRateLimitSweep(t *testing.T) {
	h := newLimiter(1, 1, 100)
	h.rl.Allow("10.0.0.1", uuid.NewString())
	h.now = h.now.Add(30 * time.Second)
	h.rl.Allow("10.0.0.2", "")

	h.now = h.now.Add(45 * time.Second)
	assert.Equal(t, 2, h.rl.Sweep(), "only the first address is idle")
	assert.Equal(t, 2, h.rl.Len())
	assert.True(t, h.rl.Allow("10.0.0.1", ""))
}

func TestRateLimitStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := NewRateLimiter(RateLimitOptions{}, nil).Start(ctx)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not exit within 2s")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := newLimiter(1, 10, 100)
	wrapped := h.rl.Middleware(okHandler())
	id := uuid.NewString()

	send := func(session string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/api/wizard", nil)
		r.RemoteAddr = "203.0.113.50:4000"
		if session != "" {
			r.Header.Set(SessionHeader, session)
		}
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, send(id).Code)

	w := send("{" + strings.ToUpper(id) + "}")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "spellings of one id share a bucket")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, send("not-a-uuid").Code, "malformed ids count as anonymous")
	assert.Equal(t, http.StatusTooManyRequests, send("").Code)
}

func TestRateLimitMiddlewareReadsCookie(t *testing.T) {
	h := newLimiter(1, 10, 100)
	wrapped := h.rl.Middleware(okHandler())
	id := uuid.NewString()

	for _, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.RemoteAddr = "203.0.113.60:4000"
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, r)
		assert.Equal(t, want, w.Code)
	}
}

func TestRateLimitConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(RateLimitOptions{RPS: 1000, Burst: 1000, MaxTracked: 50}, nil)
	wrapped := rl.Middleware(okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			session := uuid.NewString()
			for j := 0; j < 10; j++ {
				r := httptest.NewRequest("GET", "/api/wizard", nil)
				r.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4000", n/256, n%256)
				r.Header.Set(SessionHeader, session)
				w := httptest.NewRecorder()
				wrapped.ServeHTTP(w, r)
				if w.Code != http.StatusOK {
					t.Errorf("client %d: got %d under concurrent load", n, w.Code)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, rl.Len(), 50)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct peer", "203.0.113.7:4000", nil, "203.0.113.7"},
		{"public peer ignores forwarded", "203.0.113.7:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.7"},
		{"proxy forwarded for", "127.0.0.1:4000", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"proxy real ip", "10.0.0.2:4000", map[string]string{"X-Real-IP": " 5.6.7.8 "}, "5.6.7.8"},
		{"proxy without headers", "10.0.0.2:4000", nil, "10.0.0.2"},
		{"mapped v4", "[::ffff:203.0.113.9]:4000", nil, "203.0.113.9"},
		{"no port", "198.51.100.1", nil, "198.51.100.1"},
		{"unparseable", "pipe", nil, "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}
