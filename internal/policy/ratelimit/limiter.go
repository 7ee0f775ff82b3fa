// Package ratelimit spaces requests to the same host with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/konduit/internal/crawler"
	"github.com/JakeFAU/konduit/internal/metrics"
)

// Limiter manages per-host request spacing.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultDelay time.Duration
}

var _ crawler.HostLimiter = (*Limiter)(nil)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultDelay is the minimum spacing between two requests to one host.
	DefaultDelay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultDelay: cfg.DefaultDelay,
	}
}

// SetHostDelay sets the spacing for host to max(delay, default delay).
func (l *Limiter) SetHostDelay(host string, delay time.Duration) {
	host = strings.ToLower(host)
	if delay < l.defaultDelay {
		delay = l.defaultDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		l.limiters[host] = rate.NewLimiter(limitFor(delay), 1)
		return
	}
	limiter.SetLimit(limitFor(delay))
}

// Wait blocks until a token is available for rawURL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = strings.ToLower(u.Host)
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(limitFor(l.defaultDelay), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(metrics.SanitizeSite(host), waited)
	}
	return nil
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
