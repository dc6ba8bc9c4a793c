package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
)

// windowCounter counts requests per key inside a fixed window. Expired keys
// are swept whenever a fresh window starts, keeping the map bounded.
type windowCounter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]countWindow
}

type countWindow struct {
	hits    int
	resetAt time.Time
}

func (c *windowCounter) allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.windows[key]
	if !ok || now.After(current.resetAt) {
		c.windows[key] = countWindow{hits: 1, resetAt: now.Add(c.window)}
		c.sweepLocked(now)
		return true
	}
	if current.hits >= c.limit {
		return false
	}
	current.hits++
	c.windows[key] = current
	return true
}

func (c *windowCounter) sweepLocked(now time.Time) {
	for key, window := range c.windows {
		if now.After(window.resetAt) {
			delete(c.windows, key)
		}
	}
}

// RateLimitMiddleware throttles requests per caller. Authenticated callers
// are keyed by user id, anonymous ones by remote IP. A non-positive limit or
// window disables throttling.
func RateLimitMiddleware(limit int, window time.Duration) Middleware {
	if limit <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	counter := &windowCounter{
		limit:   limit,
		window:  window,
		clock:   time.Now,
		windows: make(map[string]countWindow),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !counter.allow(callerKey(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return "uid:" + identity.UID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
