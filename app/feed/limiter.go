package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to the same origin host by at least the configured
// interval. Hosts never throttle each other.
type HostLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastCall map[string]time.Time
}

func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
		lastCall: make(map[string]time.Time),
	}
}

// Wait blocks until a request to rawURL's host is allowed and records the call time.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host, err := hostOf(rawURL)
	if err != nil {
		return err
	}

	if err := l.limiter(host).Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.lastCall[host] = time.Now()
	l.mu.Unlock()

	return nil
}

// LastCall returns when a request to host was last let through.
func (l *HostLimiter) LastCall(host string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.lastCall[strings.ToLower(host)]
	return t, ok
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limit := rate.Inf
		if l.interval > 0 {
			limit = rate.Every(l.interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL %q has no host", rawURL)
	}
	return strings.ToLower(u.Host), nil
}
