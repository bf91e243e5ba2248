package gtag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
)

func TestUpdateConsentBypassesQueue(t *testing.T) {
	log := datalayer.NewLog()
	queue := datalayer.NewQueue(log, nil)
	client := New(log)

	client.UpdateConsent(models.SignalMap{"ad_storage": models.SignalGranted})

	assert.False(t, queue.Confirmed())
	require.Equal(t, 1, log.Len())
	args, ok := IsCommand(log.Entries()[0])
	require.True(t, ok)
	assert.Equal(t, "consent", args[0])
	assert.Equal(t, "update", args[1])
	assert.Equal(t, map[string]string{"ad_storage": "granted"}, args[2])
}

func TestDefaultConsent(t *testing.T) {
	log := datalayer.NewLog()
	New(log).DefaultConsent(models.SignalMap{"analytics_storage": models.SignalDenied})

	args, ok := IsCommand(log.Entries()[0])
	require.True(t, ok)
	assert.Equal(t, "default", args[1])
	_, ok = IsCommand(datalayer.NewEvent("x", nil))
	assert.False(t, ok)
}
