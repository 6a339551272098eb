package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// HandshakeLimiter admits websocket handshakes per client IP using a token
// bucket. Idle IPs are evicted after ttl.
type HandshakeLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*ipLimiter
	rps         rate.Limit
	burst       int
	ttl         time.Duration
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewHandshakeLimiter creates a limiter allowing rps handshakes per second per IP
// with the given burst. A non-positive rps disables limiting.
func NewHandshakeLimiter(rps float64, burst int) *HandshakeLimiter {
	if burst <= 0 {
		burst = 1
	}
	hl := &HandshakeLimiter{
		limiters:    make(map[string]*ipLimiter),
		rps:         rate.Limit(rps),
		burst:       burst,
		ttl:         10 * time.Minute,
		stopCleanup: make(chan struct{}),
	}
	go hl.cleanupLoop()
	return hl
}

// Allow reports whether a handshake from ip may proceed.
func (hl *HandshakeLimiter) Allow(ip string) bool {
	if hl.rps <= 0 {
		return true
	}

	hl.mu.Lock()
	l, ok := hl.limiters[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(hl.rps, hl.burst)}
		hl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	hl.mu.Unlock()

	return l.lim.Allow()
}

// RetryAfter estimates how long ip has to wait for the next token.
func (hl *HandshakeLimiter) RetryAfter(ip string) time.Duration {
	hl.mu.Lock()
	l, ok := hl.limiters[ip]
	hl.mu.Unlock()
	if !ok {
		return 0
	}

	r := l.lim.Reserve()
	defer r.Cancel()
	return r.Delay()
}

// Close stops the cleanup goroutine.
func (hl *HandshakeLimiter) Close() {
	hl.closeOnce.Do(func() { close(hl.stopCleanup) })
}

func (hl *HandshakeLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hl.evictIdle(time.Now())
		case <-hl.stopCleanup:
			return
		}
	}
}

func (hl *HandshakeLimiter) evictIdle(now time.Time) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	for ip, l := range hl.limiters {
		if now.Sub(l.lastSeen) > hl.ttl {
			delete(hl.limiters, ip)
		}
	}
}

// ExtractIP returns the client IP of a request.
//
// Order: first X-Forwarded-For entry, then X-Real-IP, then RemoteAddr. Behind a
// reverse proxy RemoteAddr is always the proxy.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
