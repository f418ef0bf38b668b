package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter     *rate.Limiter
	windowStart time.Time
	lastSeen    time.Time
}

// Throttle allows maxRequests per client IP in a fixed window that opens with
// the client's first request. The budget is restored only when the window ends.
type Throttle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	burst     int
	window    time.Duration
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewThrottle creates a Throttle allowing maxRequests per window.
func NewThrottle(maxRequests int, window time.Duration) *Throttle {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &Throttle{
		visitors: make(map[string]*visitor),
		burst:    maxRequests,
		window:   window,
		idle:     2 * window,
		now:      time.Now,
	}
}

// Handler applies the throttle to next.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := t.allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(t.burst))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"message": "Too Many Attempts."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)

	v, ok := t.visitors[key]
	if !ok || !now.Before(v.windowStart.Add(t.window)) {
		// One token per window never refills before the window is replaced.
		v = &visitor{limiter: rate.NewLimiter(rate.Every(t.window), t.burst), windowStart: now}
		t.visitors[key] = v
	}
	v.lastSeen = now

	if !v.limiter.AllowN(now, 1) {
		return false, v.windowStart.Add(t.window).Sub(now)
	}
	return true, 0
}

// sweep drops visitors idle for longer than t.idle. Must hold t.mu.
func (t *Throttle) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < t.idle {
		return
	}
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idle {
			delete(t.visitors, key)
		}
	}
	t.lastSweep = now
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
