// Package ratelimit paces calls to the scanning backend so a burst of scans
// from the dashboard does not trip the service's own throttling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
)

type Limiter struct {
	limiter  *rate.Limiter
	minDelay time.Duration
	burst    int

	mu       sync.Mutex
	nextSlot map[string]time.Time
}

type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	// MinDelay is the minimum spacing between two calls to the same host.
	MinDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2.0,
		BurstSize:         1,
		MinDelay:          250 * time.Millisecond,
	}
}

// Unlimited never blocks. Used by tests and by callers that pace themselves.
func Unlimited() Config {
	return Config{RequestsPerSecond: float64(rate.Inf), BurstSize: 1}
}

func FromConfig(cfg config.RateLimitConfig) Config {
	c := Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.BurstSize,
		MinDelay:          cfg.MinDelay,
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 1
	}
	return c
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		minDelay: cfg.MinDelay,
		burst:    cfg.BurstSize,
		nextSlot: make(map[string]time.Time),
	}
}

// WaitForHost applies the global limit, then spaces calls to host by at least MinDelay.
// Callers for different hosts never wait on each other.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	if l.minDelay <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.nextSlot[host]; ok && next.After(now) {
		slot = next
	}
	l.nextSlot[host] = slot.Add(l.minDelay)
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats reports the pacing settings and how many hosts have a reserved slot.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts: len(l.nextSlot),
		BurstSize:    l.burst,
		MinDelay:     l.minDelay,
	}
}

type Stats struct {
	TrackedHosts int
	BurstSize    int
	MinDelay     time.Duration
}
