// Package connectors pulls identities from IAM and SaaS providers and
// normalizes them into the unified identity model.
package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

// base carries the retry and throttling machinery shared by every connector.
// Provider API calls go through syncWithRetry, which waits on the shared rate
// limiter before each fetch and backs off exponentially between attempts.
type base struct {
	provider       string
	limiter        core.RateLimiter
	log            *logger.Logger
	maxAttempts    int
	initialBackoff time.Duration
}

func newBase(provider string, limiter core.RateLimiter, log *logger.Logger) base {
	return base{
		provider:       provider,
		limiter:        limiter,
		log:            log.WithProvider(provider),
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
	}
}

// syncWithRetry runs fetch under the rate limiter with exponential backoff.
// The final attempt's error is returned to the caller.
func (b *base) syncWithRetry(ctx context.Context, fetch func(ctx context.Context) ([]*types.UnifiedIdentity, error)) ([]*types.UnifiedIdentity, error) {
	backoff := b.initialBackoff

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx, b.provider); err != nil {
				return nil, fmt.Errorf("rate limiter interrupted for %s: %w", b.provider, err)
			}
		}

		identities, err := fetch(ctx)
		if err == nil {
			return identities, nil
		}

		b.log.Errorw("Provider sync attempt failed",
			"attempt", attempt,
			"max_attempts", b.maxAttempts,
			"error", err)

		if attempt == b.maxAttempts {
			return nil, fmt.Errorf("sync failed for %s after %d attempts: %w", b.provider, b.maxAttempts, err)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	return nil, nil
}

// clampScore bounds a risk score to the canonical 0-100 scale.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// parseTimestamp parses a provider timestamp, tolerating a missing offset.
// Naive timestamps are treated as UTC at the normalization boundary.
func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
