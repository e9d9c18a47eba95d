package middleware

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/audit"
	"github.com/eyesee/license-server-go/internal/config"
	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/metrics"
)

const (
	maxTrackedKeys  = 10000
	cleanupInterval = time.Minute
	idleTTL         = 5 * time.Minute
	windowDuration  = time.Minute
)

// Limiter is a per-key sliding window over one minute.
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64)
}

// window holds the hit times of one key inside the current minute, oldest first.
type window struct {
	hits     []time.Time
	lastSeen time.Time
}

func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
}

// RateLimiter is the in-process Limiter used when no redis is configured.
// State is per process, so each replica enforces its own window.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	lastCleanup time.Time
	now         func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows:     make(map[string]*window),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// evict drops idle keys. If the map is still over capacity, the keys seen
// least recently go first.
func (rl *RateLimiter) evict(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval && len(rl.windows) <= maxTrackedKeys {
		return
	}
	rl.lastCleanup = now

	for key, w := range rl.windows {
		if now.Sub(w.lastSeen) > idleTTL {
			delete(rl.windows, key)
		}
	}

	excess := len(rl.windows) - maxTrackedKeys
	if excess <= 0 {
		return
	}
	keys := make([]string, 0, len(rl.windows))
	for key := range rl.windows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return rl.windows[keys[i]].lastSeen.Before(rl.windows[keys[j]].lastSeen)
	})
	for _, key := range keys[:excess] {
		delete(rl.windows, key)
	}
}

func (rl *RateLimiter) Check(_ context.Context, key string, limit int) (allowed bool, remaining int, resetAt int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	w, ok := rl.windows[key]
	if !ok {
		w = &window{}
		rl.windows[key] = w
	}
	w.lastSeen = now
	w.prune(now.Add(-windowDuration))

	resetAt = now.Add(windowDuration).Unix()
	if len(w.hits) > 0 {
		resetAt = w.hits[0].Add(windowDuration).Unix()
	}

	if len(w.hits) >= limit {
		return false, 0, resetAt
	}

	w.hits = append(w.hits, now)
	return true, limit - len(w.hits), resetAt
}

// RateLimitMiddleware limits requests per client IP within one scope.
type RateLimitMiddleware struct {
	limiter Limiter
	limit   int
	scope   string
}

// NewRateLimitMiddleware builds a per-IP limiter. A limit of zero or less
// falls back to config.DefaultRateLimitPerMin.
func NewRateLimitMiddleware(limiter Limiter, limit int, scope string) *RateLimitMiddleware {
	if limit <= 0 {
		limit = config.DefaultRateLimitPerMin
	}
	return &RateLimitMiddleware{limiter: limiter, limit: limit, scope: scope}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), m.scope+":"+ip, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			log.Warn().Str("ip", ip).Str("scope", m.scope).Msg("rate limit exceeded")
			metrics.RateLimitRejectionsTotal.WithLabelValues(m.scope).Inc()
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.scope},
			})
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
