package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/pkg/redis"
)

func TestConnectRejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://localhost:6379"})
	require.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}

func TestConnectGivesUpWithoutTrailingWait(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := redis.Connect(context.Background(), redis.Config{
		// Nothing listens on port 1.
		ConnectionURL:  "redis://127.0.0.1:1/0",
		RetryAttempts:  1,
		RetryInterval:  time.Hour,
		ConnectTimeout: 10 * time.Second,
	})
	require.ErrorIs(t, err, redis.ErrRedisNotReady)
	assert.Less(t, time.Since(start), 10*time.Second)
}
