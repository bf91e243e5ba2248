//go:build integration

package slot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/receipt/slot"
	"klarogeo/internal/sentinel"
	"klarogeo/pkg/testutil/containers"
)

func TestRedisSlot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	s := slot.NewRedis(rc.Client, "klaro_geo_consent_receipts")
	_, err := s.Load(ctx)
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Store(ctx, []byte(`[{"receipt_id":"r1"}]`)))
	raw, err := s.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"receipt_id":"r1"}]`, string(raw))

	other := slot.NewRedis(rc.Client, "other_key")
	_, err = other.Load(ctx)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
