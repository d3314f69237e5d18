package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter().(*memoryLimiter)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	userId := uuid.New()

	for i := 0; i < defaultLimit; i++ {
		decision, err := l.Check(ctx, userId)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "upload %d within the window is allowed", i+1)
	}

	decision, err := l.Check(ctx, userId)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))

	// A different user is unaffected.
	decision, err = l.Check(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// The window expires and the user may upload again.
	now = now.Add(defaultWindow)
	decision, err = l.Check(ctx, userId)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
