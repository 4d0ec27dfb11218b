package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client request budget.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter for the given requests-per-minute budget.
// It returns nil (no throttling) when perMinute <= 0.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		window:  5 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow spends one token from key's bucket. When refused it also returns how
// long until the next token.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r == nil {
		return true, 0
	}
	now := r.now()
	lim := r.getLimiter(key, now)
	if lim.AllowN(now, 1) {
		return true, 0
	}
	res := lim.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return false, wait
}

func (r *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	lim := rate.NewLimiter(r.limit, r.burst)
	r.clients[key] = &clientLimiter{limiter: lim, lastSeen: now}
	r.cleanupLocked(now)
	return lim
}

func (r *RateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range r.clients {
		if now.Sub(entry.lastSeen) > r.window {
			delete(r.clients, key)
		}
	}
}

// Middleware throttles by client IP and answers 429 rate_limited.
func (r *RateLimiter) Middleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := "unknown"
			if ip := clientIP(req, trustProxy); ip != nil {
				key = ip.String()
			}
			if ok, wait := r.Allow(key); !ok {
				writeRateLimited(w, wait)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	writeRetryAfter(w, retryAfter)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func writeRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10))
}
