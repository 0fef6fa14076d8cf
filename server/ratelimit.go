package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-client-IP token bucket. Idle visitors expire from the
// cache so the map does not grow with every address ever seen.
type RateLimiter struct {
	mu       sync.Mutex
	visitors *ttlcache.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int, idle time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	rl := &RateLimiter{
		visitors: ttlcache.New(
			ttlcache.WithTTL[string, *rate.Limiter](idle),
		),
		limit: rate.Limit(perSecond),
		burst: burst,
	}
	go rl.visitors.Start()
	return rl
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var limiter *rate.Limiter
	if item := rl.visitors.Get(key); item != nil {
		limiter = item.Value()
	} else {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors.Set(key, limiter, ttlcache.DefaultTTL)
	}
	return limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the expiry loop.
func (rl *RateLimiter) Close() {
	if rl != nil {
		rl.visitors.Stop()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
