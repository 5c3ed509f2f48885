package middleware

import (
	"net/http"
	"sync"
	"time"
)

const visitorIdleTTL = 10 * time.Minute

// visitor is a token bucket for a single client IP.
type visitor struct {
	tokens float64
	seen   time.Time
}

// RateLimiter tracks per-IP token buckets. Buckets refill at rate tokens
// per second up to burst and idle entries are swept opportunistically.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      float64
	burst     float64
	lastSweep time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rate,
		burst:     float64(burst),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request from ip fits the limit and spends a
// token when it does.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > visitorIdleTTL {
		rl.sweepLocked(now)
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{tokens: rl.burst, seen: now}
		rl.visitors[ip] = v
	} else {
		v.tokens += now.Sub(v.seen).Seconds() * rl.rate
		if v.tokens > rl.burst {
			v.tokens = rl.burst
		}
		v.seen = now
	}

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.seen) > visitorIdleTTL {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

// RateLimit rejects requests that exceed the per-IP limit with 429.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// RealIP middleware rewrites this header upstream.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !limiter.Allow(ip) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
