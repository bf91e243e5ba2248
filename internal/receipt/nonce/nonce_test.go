package nonce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "klarogeo/pkg/domain-errors"
)

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := NewIssuer("secret", time.Hour, WithClock(clock))

	token, expires, err := issuer.Issue("klaro_geo_log_consent")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)
	assert.NoError(t, issuer.Verify(token, "klaro_geo_log_consent"))

	t.Run("wrong action", func(t *testing.T) {
		err := issuer.Verify(token, "other_action")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidNonce))
	})

	t.Run("wrong key", func(t *testing.T) {
		err := NewIssuer("other", time.Hour, WithClock(clock)).Verify(token, "klaro_geo_log_consent")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidNonce))
	})

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer("secret", time.Hour, WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
		err := later.Verify(token, "klaro_geo_log_consent")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidNonce))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("empty", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(issuer.Verify("", "a"), dErrors.CodeInvalidNonce))
	})

	t.Run("garbage", func(t *testing.T) {
		assert.True(t, dErrors.HasCode(issuer.Verify("not.a.jwt", "a"), dErrors.CodeInvalidNonce))
	})
}

func TestDefaultTTL(t *testing.T) {
	now := time.Now()
	_, expires, err := NewIssuer("k", 0, WithClock(func() time.Time { return now })).Issue("a")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), expires)
}
