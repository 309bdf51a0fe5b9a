package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/ratelimit/store"
)

func TestNewFixedWindowLimiter(t *testing.T) {
	tests := []struct {
		name   string
		store  store.Store
		limit  int
		window time.Duration
		logger *zap.Logger
	}{
		{"nil store and nil logger", nil, 100, time.Minute, nil},
		{"memory store", store.NewMemoryStore(), 50, 30 * time.Second, zap.NewNop()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewFixedWindowLimiter(tt.store, tt.limit, tt.window, tt.logger)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.limit, limiter.limit)
			assert.Equal(t, tt.window, limiter.window)
		})
	}
}

func TestFixedWindowLimiter_Local(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(nil, 3, time.Minute, nil)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			result, err := limiter.Allow(ctx, "caller")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		}

		result, err := limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Zero(t, result.Remaining)
		assert.Greater(t, result.RetryAfter, time.Duration(0))
	})

	t.Run("keys are independent", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
		ctx := context.Background()

		result, err := limiter.Allow(ctx, "alpha")
		require.NoError(t, err)
		assert.True(t, result.Allowed)

		result, err = limiter.Allow(ctx, "beta")
		require.NoError(t, err)
		assert.True(t, result.Allowed)

		result, err = limiter.Allow(ctx, "alpha")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	})

	t.Run("window rolls over", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(nil, 1, 50*time.Millisecond, nil)
		ctx := context.Background()

		result, err := limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, result.Allowed)

		result, err = limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.False(t, result.Allowed)

		time.Sleep(60 * time.Millisecond)

		result, err = limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})
}

func TestFixedWindowLimiter_Distributed(t *testing.T) {
	s := store.NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	limiter := NewFixedWindowLimiter(s, 2, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestFixedWindowLimiter_Reset(t *testing.T) {
	limiter := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	require.NoError(t, limiter.Reset(ctx, "caller"))

	result, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestNoopLimiter(t *testing.T) {
	limiter := NewNoopLimiter()

	for i := 0; i < 100; i++ {
		result, err := limiter.Allow(context.Background(), "any")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	assert.NoError(t, limiter.Reset(context.Background(), "any"))
}
