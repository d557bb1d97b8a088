package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiter hands out one token bucket per key.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit // requests per second
	b        int        // burst
}

func NewKeyedLimiter(r rate.Limit, b int) *KeyedLimiter {
	if b < 1 {
		b = 1
	}
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

func (k *KeyedLimiter) Limiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	limiter, exists := k.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(k.r, k.b)
		k.limiters[key] = limiter
	}
	return limiter
}

// RateLimit rejects requests over budget with 429. Requests are keyed by
// actor header when present, by client address otherwise.
func RateLimit(limiter *KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Limiter(rateKey(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if id := r.Header.Get(ActorHeader); id != "" {
		return "actor:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
