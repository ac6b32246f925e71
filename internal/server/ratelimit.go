package server

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitOptions configures a RateLimiter.
type RateLimitOptions struct {
	RPS        float64       // per-session refill rate
	Burst      int           // per-session bucket size
	IPFactor   int           // address allowance as a multiple of the session one
	MaxTracked int           // buckets kept before the least recent is dropped
	Idle       time.Duration // buckets unused this long are swept
}

// RateLimiter throttles API and WebSocket traffic with token buckets.
//
// A request carrying a valid session id draws from that session's bucket;
// one without draws from an anonymous bucket for its address. Every request
// also draws from its address's shared bucket, IPFactor times larger, so an
// office behind one NAT gets a bucket per person while a single client
// minting fresh session ids is still capped.
type RateLimiter struct {
	opts   RateLimitOptions
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List // *bucket, most recent first

	evictedSinceLog int
	lastEvictLog    time.Time
}

type bucket struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

const evictLogEvery = 30 * time.Second

// NewRateLimiter fills unset options with defaults: 10 rps, burst 20,
// factor 10, 10000 buckets, 10 minutes idle.
func NewRateLimiter(opts RateLimitOptions, logger *zap.Logger) *RateLimiter {
	if opts.RPS <= 0 {
		opts.RPS = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.IPFactor <= 0 {
		opts.IPFactor = 10
	}
	if opts.MaxTracked < 2 {
		opts.MaxTracked = 10000
	}
	if opts.Idle <= 0 {
		opts.Idle = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Middleware answers 429 once the caller's session or address bucket is dry.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r), requestSession(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow charges one request to session (or the anonymous bucket for ip when
// session is empty) and to ip's shared bucket. Nothing is charged unless
// both have a token.
func (rl *RateLimiter) Allow(ip, session string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	own := "anon:" + ip
	if session != "" {
		own = "session:" + session
	}
	personal := rl.bucket(own, 1, now)
	shared := rl.bucket("ip:"+ip, rl.opts.IPFactor, now)

	if personal.TokensAt(now) < 1 || shared.TokensAt(now) < 1 {
		return false
	}
	personal.AllowN(now, 1)
	shared.AllowN(now, 1)
	return true
}

// bucket must be called with rl.mu held.
func (rl *RateLimiter) bucket(key string, factor int, now time.Time) *rate.Limiter {
	if e, ok := rl.buckets[key]; ok {
		rl.lru.MoveToFront(e)
		b := e.Value.(*bucket)
		b.lastSeen = now
		return b.limiter
	}

	if rl.lru.Len() >= rl.opts.MaxTracked {
		rl.evictOldest(now)
	}
	b := &bucket{
		key:      key,
		limiter:  rate.NewLimiter(rate.Limit(rl.opts.RPS*float64(factor)), rl.opts.Burst*factor),
		lastSeen: now,
	}
	rl.buckets[key] = rl.lru.PushFront(b)
	return b.limiter
}

func (rl *RateLimiter) evictOldest(now time.Time) {
	oldest := rl.lru.Back()
	if oldest == nil {
		return
	}
	rl.lru.Remove(oldest)
	delete(rl.buckets, oldest.Value.(*bucket).key)

	rl.evictedSinceLog++
	if now.Sub(rl.lastEvictLog) >= evictLogEvery {
		rl.logger.Warn("rate limiter at capacity, dropping least recent buckets",
			zap.Int("evicted", rl.evictedSinceLog),
			zap.Int("capacity", rl.opts.MaxTracked))
		rl.lastEvictLog = now
		rl.evictedSinceLog = 0
	}
}

// Sweep drops buckets unused for the idle period and returns how many went.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.opts.Idle)
	swept := 0
	for e := rl.lru.Back(); e != nil; {
		prev := e.Prev()
		if b := e.Value.(*bucket); b.lastSeen.Before(cutoff) {
			rl.lru.Remove(e)
			delete(rl.buckets, b.key)
			swept++
		}
		e = prev
	}
	return swept
}

// Len returns the number of tracked buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lru.Len()
}

// Start sweeps every half idle period until ctx ends. The returned channel
// closes when the sweeper has exited.
func (rl *RateLimiter) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(rl.opts.Idle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := rl.Sweep(); n > 0 {
					rl.logger.Debug("rate limiter swept idle buckets", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

// requestSession is the canonical session id a request carries, or "" when
// it carries none or a malformed one.
func requestSession(r *http.Request) string {
	id, err := canonicalID(sessionID(r))
	if err != nil {
		return ""
	}
	return id
}

// clientIP is the address a request is charged to. Forwarding headers count
// only when the peer is a loopback or private address, i.e. our own proxy.
func clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return peer
	}
	if addr.IsLoopback() || addr.IsPrivate() {
		if fwd := forwardedClient(r.Header); fwd != "" {
			return fwd
		}
	}
	return addr.Unmap().String()
}

func forwardedClient(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(h.Get("X-Real-IP"))
}
