// Package ratelimit provides a token-bucket throttle for outbound HTTP
// calls, adapted from the teacher's infrastructure/ratelimit package. Here
// it throttles calls to each configured analysis backend rather than a
// blockchain RPC endpoint.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config governs the limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig is a conservative per-backend default.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 20, Burst: 40}
}

// Limiter wraps golang.org/x/time/rate with a Reset hook so configuration
// can be changed without reconstructing every call site.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	cfg     Config
}

// New constructs a Limiter from cfg, applying DefaultConfig's floor when
// fields are unset.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst), cfg: cfg}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()
	return lim.Wait(ctx)
}

// Allow reports whether a call may proceed immediately without blocking.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Reset rebuilds the underlying bucket at its originally configured rate,
// clearing any accumulated burst debt.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
}

// Client wraps an *http.Client so every Do call first waits on the limiter.
type Client struct {
	http    *http.Client
	limiter *Limiter
}

// NewClient constructs a rate-limited HTTP client.
func NewClient(client *http.Client, cfg Config) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: client, limiter: New(cfg)}
}

// Do waits for a token (respecting req's context) then issues req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
