//go:build integration

package store_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/ratelimit/store"
	"klarogeo/pkg/testutil"
	"klarogeo/pkg/testutil/containers"
)

func TestRedisBucketStore(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))
	s := store.NewRedis(rc.Client, "klaro_geo:ratelimit:")
	ctx := context.Background()

	for range 2 {
		res, err := s.Allow(ctx, "ip:198.51.100.1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := s.Allow(ctx, "ip:198.51.100.1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	require.NoError(t, s.Reset(ctx, "ip:198.51.100.1"))
	res, err = s.Allow(ctx, "ip:198.51.100.1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisBucketStoreIsAtomic(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))
	s := store.NewRedis(rc.Client, "klaro_geo:ratelimit:")

	var admitted atomic.Int32
	result := testutil.RunConcurrent(50, func(int) error {
		res, err := s.Allow(context.Background(), "burst", 10, time.Minute)
		if err == nil && res.Allowed {
			admitted.Add(1)
		}
		return err
	})
	assert.Zero(t, result.Errors)
	assert.Equal(t, int32(10), admitted.Load())
}
