// Package ratelimit throttles outbound provider API calls so syncs never
// trip a provider's abuse detection.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config contains rate limiting configuration.
type Config struct {
	// RequestsPerSecond limits calls per provider.
	RequestsPerSecond int

	// BurstSize allows brief bursts above the rate limit.
	BurstSize int
}

// DefaultConfig matches the default connector budget of 5 requests/second.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         5,
	}
}

// Limiter keeps one token bucket per provider. Buckets are created on first
// use with the default rate and can be retuned at runtime.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	defaultRate rate.Limit
	burst       int
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerSecond
	}
	return &Limiter{
		buckets:     make(map[string]*rate.Limiter),
		defaultRate: rate.Limit(config.RequestsPerSecond),
		burst:       config.BurstSize,
	}
}

// Wait blocks until the provider's bucket allows the request.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	return l.bucket(provider).Wait(ctx)
}

// Allow checks the provider's bucket without blocking.
func (l *Limiter) Allow(provider string) bool {
	return l.bucket(provider).Allow()
}

// SetLimit retunes one provider's bucket.
func (l *Limiter) SetLimit(provider string, requestsPerSecond int) {
	if requestsPerSecond <= 0 {
		return
	}
	l.bucket(provider).SetLimit(rate.Limit(requestsPerSecond))
}

// Providers returns the providers with an active bucket.
func (l *Limiter) Providers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		names = append(names, name)
	}
	return names
}

func (l *Limiter) bucket(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[provider]
	if !ok {
		b = rate.NewLimiter(l.defaultRate, l.burst)
		l.buckets[provider] = b
	}
	return b
}
