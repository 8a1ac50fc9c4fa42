package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed window limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Validate reports a non-positive limit or window.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	// Allow records a request for key. When the request is over the limit
	// it returns false and the seconds until the window resets.
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, retryAfter int)
}

type window struct {
	count int
	ends  time.Time
}

// InMemoryRateLimitStore is a fixed window RateLimitStore local to one
// process. Call Cleanup periodically to drop expired windows.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates an empty store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{windows: make(map[string]*window), now: time.Now}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.ends) {
		s.windows[key] = &window{count: 1, ends: now.Add(config.WindowDuration)}
		return true, 0
	}
	if w.count < config.RequestsPerWindow {
		w.count++
		return true, 0
	}

	// Round up so clients never retry before the window has reset.
	retryAfter := int((w.ends.Sub(now) + time.Second - 1) / time.Second)
	return false, max(retryAfter, 1)
}

// Cleanup drops expired windows and returns how many were removed.
func (s *InMemoryRateLimitStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.ends) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *InMemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// KeyFunc picks the rate limit key for a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys on the connection's remote host. Forwarding headers are
// honoured only when that host lies in trustedProxies: the key is then the
// rightmost X-Forwarded-For hop that is not itself a trusted proxy, falling
// back to X-Real-IP. With no trusted proxies the headers are ignored, so a
// caller cannot pick its own key.
func IPKeyFunc(trustedProxies ...netip.Prefix) KeyFunc {
	trusted := func(host string) bool {
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range trustedProxies {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := remoteHost(r.RemoteAddr)
		if !trusted(peer) {
			return peer
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			hops := strings.Split(xff, ",")
			for i := len(hops) - 1; i >= 0; i-- {
				if hop := strings.TrimSpace(hops[i]); hop != "" && !trusted(hop) {
					return hop
				}
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// RateLimiter rejects requests over the limit with 429 rate_limited.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return RateLimiterWithMetrics(store, config, keyFunc, nil)
}

// RateLimiterWithMetrics is RateLimiter that also counts checks and
// rejections on metrics. A nil metrics counts nothing.
func RateLimiterWithMetrics(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	limit := strconv.Itoa(config.RequestsPerWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := normalizePath(r.URL.Path)
			if metrics != nil {
				metrics.IncRateLimitRequests(route)
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			allowed, retryAfter := store.Allow(r.Context(), keyFunc(r), config)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if metrics != nil {
				metrics.IncRateLimitBlocked(route)
			}
			UpdateResponseContext(w, SetErrorCode(r.Context(), "rate_limited"))

			reset := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"Too many requests"}}`))
		})
	}
}
