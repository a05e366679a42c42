// Package ratelimit implements per-domain request pacing for scrape and
// validation traffic.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/grantwell/scholarship-ingest/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS caps sustained requests per second per domain. <= 0 means no cap.
	DefaultRPS float64
	// DefaultBurst is the per-domain token bucket size.
	DefaultBurst int
	// MinDelay is the minimum gap enforced between requests to one domain.
	MinDelay time.Duration
	// JitterMax widens MinDelay by a random amount in [0, JitterMax).
	JitterMax time.Duration
}

// Limiter manages per-domain token buckets with a jittered minimum
// inter-request delay so target sites see irregular, polite traffic.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	lastRequest  map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	minDelay     time.Duration
	jitterMax    time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		lastRequest:  make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
		minDelay:     cfg.MinDelay,
		jitterMax:    cfg.JitterMax,
	}
}

// Wait blocks until the given URL's domain may be contacted, respecting the
// context. The wait combines the token bucket with the jittered minimum delay
// since the domain's previous request.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.WaitDomain(ctx, domainOf(rawURL))
}

// WaitDomain is Wait for callers that already know the pacing key, such as
// the orchestrator pacing whole sources rather than individual URLs.
func (l *Limiter) WaitDomain(ctx context.Context, domain string) error {
	if domain == "" {
		domain = "unknown"
	}

	l.mu.Lock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	pause := l.pauseFor(domain)
	l.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit pause: %w", ctx.Err())
		case <-timer.C:
		}
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start) + pause; waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}

	l.mu.Lock()
	l.lastRequest[domain] = time.Now()
	l.mu.Unlock()
	return nil
}

// pauseFor computes the remaining jittered delay for domain. Caller holds mu.
func (l *Limiter) pauseFor(domain string) time.Duration {
	if l.minDelay <= 0 {
		return 0
	}
	last, ok := l.lastRequest[domain]
	if !ok {
		return 0
	}
	gap := l.minDelay + randomJitter(l.jitterMax)
	remaining := gap - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
