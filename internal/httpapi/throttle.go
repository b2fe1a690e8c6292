package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig bounds login-path request rates per client address,
// a coarse brute-force dampener in front of the account lockout.
type ThrottleConfig struct {
	RatePerMinute int
	Burst         int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type loginThrottle struct {
	cfg     ThrottleConfig
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newLoginThrottle(cfg ThrottleConfig) *loginThrottle {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &loginThrottle{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
	}
}

func (t *loginThrottle) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.clients[host]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(t.cfg.RatePerMinute)/60.0), t.cfg.Burst),
		}
		t.clients[host] = c
	}
	c.lastSeen = time.Now()

	if len(t.clients) > 4096 {
		t.evictStale()
	}
	return c.limiter.Allow()
}

// evictStale drops limiters idle for over an hour. Caller holds the lock.
func (t *loginThrottle) evictStale() {
	cutoff := time.Now().Add(-time.Hour)
	for host, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, host)
		}
	}
}

func (t *loginThrottle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(r.RemoteAddr) {
			respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
