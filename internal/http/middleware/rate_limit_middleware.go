package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pipetrade/rfq-auth/internal/http/response"
)

// RateLimiter is a fixed-window per-client limiter held in process memory.
// Auth endpoints additionally sit behind the redis abuse guard; this layer
// only caps raw request volume.
type RateLimiter struct {
	mu      sync.Mutex
	store   map[string]*windowState
	cleanup time.Time
	limit   int
	window  time.Duration
}

type windowState struct {
	hits []time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		store:   make(map[string]*windowState),
		cleanup: time.Now().Add(window),
		limit:   limit,
		window:  window,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := rl.allow(clientIPKey(r))
			if !allowed {
				w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if len(v.hits) == 0 || now.Sub(v.hits[len(v.hits)-1]) > 2*rl.window {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	state, ok := rl.store[key]
	if !ok {
		state = &windowState{}
		rl.store[key] = state
	}
	cutoff := now.Add(-rl.window)
	pruned := state.hits[:0]
	for _, hit := range state.hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	state.hits = pruned
	if len(state.hits) >= rl.limit {
		return false, state.hits[0].Add(rl.window).Sub(now)
	}
	state.hits = append(state.hits, now)
	return true, 0
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

func retryAfterHeader(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
