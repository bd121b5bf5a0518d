// Package middleware provides the HTTP middleware chain for the API server.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sizes the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 // sustained refill rate
	Burst             int     // bucket capacity
}

// visitor is one client's bucket plus its last activity time, which the
// janitor uses to evict idle clients.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	visitorSweepEvery = 5 * time.Minute
	visitorExpiry     = 10 * time.Minute
)

// RateLimiter enforces a token-bucket rate limit per client IP. Requests
// over the limit get 429 with a Retry-After hint; accepted responses carry
// X-RateLimit-* headers.
func RateLimiter(cfg RateLimitConfig) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	go func() {
		for range time.Tick(visitorSweepEvery) {
			mu.Lock()
			for ip, v := range visitors {
				if time.Since(v.lastSeen) > visitorExpiry {
					delete(visitors, ip)
				}
			}
			mu.Unlock()
		}
	}()

	bucketFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		return v.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := bucketFor(clientIP(r))

			res := limiter.Reserve()
			if !res.OK() {
				rejectRateLimited(w, 0)
				return
			}
			if delay := res.Delay(); delay > 0 {
				// Granting now would exceed the rate; give the tokens back.
				res.Cancel()
				rejectRateLimited(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys the bucket by RemoteAddr without the port. X-Forwarded-For
// is spoofable and deliberately ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rejectRateLimited(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    http.StatusTooManyRequests,
		"message": "rate limit exceeded",
	})
}
