package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitAllowsWithinBudget(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "okta"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitThrottlesBeyondBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1})

	require.NoError(t, l.Wait(context.Background(), "aws"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "aws"))
	// second call has to wait roughly one token interval (100ms at 10 rps)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestBucketsAreIndependentPerProvider(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})

	require.True(t, l.Allow("okta"))
	require.False(t, l.Allow("okta"))
	// a different provider still has its burst available
	assert.True(t, l.Allow("github"))
}

func TestSetLimitRetunesBucket(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})

	require.True(t, l.Allow("gitlab"))
	l.SetLimit("gitlab", 1000)

	time.Sleep(10 * time.Millisecond)
	assert.True(t, l.Allow("gitlab"))
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	require.NoError(t, l.Wait(context.Background(), "azure"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "azure")
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	require.NoError(t, l.Wait(context.Background(), "okta"))
	assert.Equal(t, []string{"okta"}, l.Providers())
}
