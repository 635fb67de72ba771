package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit 限制同一来源在指定窗口内的请求数量，按令牌桶平滑放行。
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return passthrough
	}

	limiter := newClientLimiter(rate.Every(window/time.Duration(maxRequests)), maxRequests, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.allow(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entryTTL    time.Duration
	clients     map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

func newClientLimiter(limit rate.Limit, burst int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:       limit,
		burst:       burst,
		entryTTL:    max(window, 5*time.Minute),
		clients:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// allow 返回是否放行，以及被拒绝时建议的等待时间。
func (l *clientLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) > 1024 && now.Sub(l.lastCleanup) > time.Minute {
		l.cleanupLocked(now)
	}

	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := entry.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, max(delay, time.Second)
}

func (l *clientLimiter) cleanupLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.entryTTL {
			delete(l.clients, key)
		}
	}
	l.lastCleanup = now
}

// clientKey 优先使用鉴权后的调用方标识，其次是来源 IP。
func clientKey(r *http.Request) string {
	if subject := GetSubject(r.Context()); subject != "" {
		return "sub:" + subject
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
