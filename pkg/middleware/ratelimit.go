package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// RateLimitConfig defines a fixed window limit
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the anonymous limit
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
}

// PerUserRateLimitConfig returns the authenticated limit
func PerUserRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute}
}

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts requests per key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// MemoryLimiter is a per-process fixed window limiter
type MemoryLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int
	start time.Time
}

// NewMemoryLimiter creates a MemoryLimiter
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts one request against key
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.WindowDuration {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++

	return decide(l.config, w.count, l.config.WindowDuration-now.Sub(w.start)), nil
}

// Cleanup removes expired windows
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.config.WindowDuration {
			delete(l.windows, key)
		}
	}
}

// StartCleanup removes expired windows every window until ctx is done
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RedisLimiter shares fixed windows across instances
type RedisLimiter struct {
	client redis.UniversalClient
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix
func NewRedisLimiter(client redis.UniversalClient, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "tenancy:ratelimit"
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix}
}

// Allow counts one request against key
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
	}

	resetIn, err := l.client.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if resetIn <= 0 {
		// Counter lost its expiry, start a fresh window.
		if err := l.client.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		resetIn = l.config.WindowDuration
	}
	return decide(l.config, int(count), resetIn), nil
}

func decide(config RateLimitConfig, count int, resetIn time.Duration) Decision {
	remaining := config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= config.RequestsPerWindow,
		Limit:     config.RequestsPerWindow,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// RateLimitMiddleware limits authenticated callers by user id and anonymous
// callers by client address. Limiter errors fail open.
//
// The client address is the connection's peer unless that peer is a trusted
// proxy, in which case forwarding headers are consulted.
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	trustedProxies   []*net.IPNet
	logger           *observability.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(userLimiter, anonymousLimiter Limiter, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      userLimiter,
		anonymousLimiter: anonymousLimiter,
		logger:           logger,
	}
}

// WithTrustedProxies sets the CIDRs whose X-Forwarded-For and X-Real-IP
// headers are believed.
func (m *RateLimitMiddleware) WithTrustedProxies(cidrs []string) (*RateLimitMiddleware, error) {
	trusted := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		trusted = append(trusted, network)
	}
	clone := *m
	clone.trustedProxies = trusted
	return &clone, nil
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var key string
		var limiter Limiter
		if userID, ok := ActingUser(r); ok {
			key = "user:" + strconv.FormatInt(userID, 10)
			limiter = m.userLimiter
		} else {
			key = "ip:" + m.clientIP(r)
			limiter = m.anonymousLimiter
		}

		decision, err := limiter.Allow(r.Context(), key)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, decision)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.ResetIn.Round(time.Second).Seconds())))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.ResetIn).Unix(), 10))
}

// clientIP returns the address the request came from. Forwarding headers
// are read only when the peer is a trusted proxy; X-Forwarded-For is walked
// from the right so entries appended by untrusted hops are never taken.
func (m *RateLimitMiddleware) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !m.trusted(peer) {
		return peer
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			if !m.trusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return peer
}

func (m *RateLimitMiddleware) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range m.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
