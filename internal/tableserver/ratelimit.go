package tableserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/syncengine/internal/tableserver/auth"
)

// RateLimitConfig configures per-subject token-bucket rate limiting: refill
// rate is MaxRequests/WindowSeconds tokens per second, capped at Burst.
type RateLimitConfig struct {
	WindowSeconds int
	MaxRequests   int
	Burst         int
}

// DefaultRateLimitConfig allows 600 requests/minute with a 120-request
// burst per subject.
var DefaultRateLimitConfig = RateLimitConfig{WindowSeconds: 60, MaxRequests: 600, Burst: 120}

// decision is one bucket check's outcome: whether the request may proceed,
// the rate-limit headers to report regardless, and (when denied) how long
// the caller should wait before retrying.
type decision struct {
	allowed    bool
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastSeen   time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{tokens: float64(capacity), capacity: float64(capacity), refillRate: refillRate, lastSeen: time.Now()}
}

// check refills proportionally to elapsed time, then spends one token if
// available, reporting the decision directly rather than leaving the
// middleware to re-derive remaining/reset from raw bucket state.
func (tb *tokenBucket) check() decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.lastSeen).Seconds()*tb.refillRate)
	tb.lastSeen = now

	resetAt := now.Add(time.Duration((tb.capacity-tb.tokens)/tb.refillRate) * time.Second)

	if tb.tokens < 1.0 {
		wait := time.Duration((1.0-tb.tokens)/tb.refillRate*float64(time.Second)) + time.Second
		return decision{allowed: false, remaining: 0, resetAt: resetAt, retryAfter: wait}
	}

	tb.tokens--
	return decision{allowed: true, remaining: int(tb.tokens), resetAt: resetAt}
}

func (tb *tokenBucket) idleSince(cutoff time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastSeen.Before(cutoff)
}

// rateLimiter owns one token bucket per authenticated subject and a
// background sweep that evicts buckets idle longer than an hour, so a
// long-lived server doesn't accumulate one bucket per subject forever.
// Unlike a detached goroutine started at construction with no way to stop
// it, the sweep is tied to Stop() so Server.Close can shut it down cleanly.
type rateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	cfg     RateLimitConfig
	stop    chan struct{}
	stopped sync.Once
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{buckets: make(map[string]*tokenBucket), cfg: cfg, stop: make(chan struct{})}
	go rl.sweep()
	return rl
}

// Stop ends the background eviction sweep. Safe to call more than once.
func (rl *rateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) bucketFor(subject string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[subject]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[subject]; ok {
		return b
	}
	refillRate := float64(rl.cfg.MaxRequests) / float64(rl.cfg.WindowSeconds)
	b = newTokenBucket(rl.cfg.Burst, refillRate)
	rl.buckets[subject] = b
	return b
}

func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			cutoff := now.Add(-time.Hour)
			rl.mu.Lock()
			for subject, b := range rl.buckets {
				if b.idleSince(cutoff) {
					delete(rl.buckets, subject)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// middleware enforces per-subject rate limiting, returning 429 with a
// Retry-After header when a subject's bucket is empty — the server-side
// counterpart to pipeline.RetryInterceptor's client-side 429/Retry-After
// handling. Unauthenticated requests (no subject in context) are never
// limited here; with no Authenticator configured, /tables requests carry no
// subject and pass through unlimited.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := auth.Subject(r.Context())
		if subject == "" {
			next.ServeHTTP(w, r)
			return
		}

		d := rl.bucketFor(subject).check()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))
		w.Header().Set("X-RateLimit-Burst", strconv.Itoa(rl.cfg.Burst))

		if !d.allowed {
			retryAfter := int(d.retryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			log.Warn().Str("subject", subject).Str("path", r.URL.Path).Int("retryAfter", retryAfter).Msg("tableserver: rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+" seconds")
			return
		}

		next.ServeHTTP(w, r)
	})
}
