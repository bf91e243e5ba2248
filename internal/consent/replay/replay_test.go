package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/receipt/slot"
)

const script = `
config:
  consent_mode_services:
    analytics_storage: google-analytics
    ad_storage: google-ads
  services:
    - name: google-analytics
      purposes: [analytics, marketing]
    - name: google-ads
      purposes: [marketing]
early_events:
  - event: early_page_view
steps:
  - install: true
  - advance: 100ms
  - hydrate:
      google-analytics: true
      google-ads: false
  - push:
      event: page_view
      page: /pricing
  - advance: 50ms
  - set:
      google-ads: true
  - save: true
  - advance: 50ms
  - show: true
`

func names(events []datalayer.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name()
	}
	return out
}

func TestRunReleasesQueueAndRecordsReceipt(t *testing.T) {
	s, err := Parse([]byte(script))
	require.NoError(t, err)

	var forwarded int
	res, err := Run(context.Background(), s, Options{
		Logger: logger.Discard(),
		Attach: func(l *datalayer.Log) func() {
			return l.Intercept(func(datalayer.Event) { forwarded++ })
		},
	})
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.Zero(t, res.Buffered)
	assert.Equal(t, 1, res.ModalOpen)
	assert.Equal(t, len(res.Log), forwarded)

	got := names(res.Log)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "", got[0], "gtag command comes first")
	assert.Equal(t, models.EventConsentUpdate, got[1])
	assert.Contains(t, got, "early_page_view")
	assert.Contains(t, got, "page_view")
	assert.Contains(t, got, models.EventQueueFlushed)

	require.Len(t, res.Receipts, 1)
	assert.Equal(t, map[string]bool{"google-analytics": true, "google-ads": true}, res.Receipts[0].ConsentChoices)
}

func TestRunWithoutManagerStaysBuffered(t *testing.T) {
	s, err := Parse([]byte(`
config:
  manager_retries: 1
steps:
  - push: {event: page_view}
  - advance: 1s
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s, Options{Logger: logger.Discard()})
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 1, res.Buffered)
	assert.Empty(t, res.Log)
}

func TestRunPurposeToggleKeepsSharedService(t *testing.T) {
	s, err := Parse([]byte(`
config:
  services:
    - {name: google-analytics, purposes: [analytics, marketing]}
    - {name: hotjar, purposes: [analytics]}
    - {name: facebook-pixel, purposes: [marketing]}
steps:
  - install: true
  - advance: 100ms
  - hydrate: {google-analytics: true, hotjar: true, facebook-pixel: true}
  - advance: 50ms
  - toggle_purpose: {purpose: analytics, enabled: false}
  - save: true
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s, Options{Logger: logger.Discard()})
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, map[string]bool{
		"google-analytics": true,
		"hotjar":           false,
		"facebook-pixel":   true,
	}, res.Receipts[0].ConsentChoices)
}

func TestRunRealtime(t *testing.T) {
	s, err := Parse([]byte(`
config:
  consent_mode_services:
    analytics_storage: google-analytics
early_events:
  - event: early_page_view
steps:
  - install: true
  - advance: 300ms
  - hydrate: {google-analytics: true}
  - advance: 300ms
  - push: {event: page_view}
  - save: true
  - advance: 300ms
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s, Options{Realtime: true, Logger: logger.Discard()})
	require.NoError(t, err)

	assert.True(t, res.Confirmed)
	assert.Zero(t, res.Buffered)
	got := names(res.Log)
	assert.Contains(t, got, models.EventConsentUpdate)
	assert.Contains(t, got, "early_page_view")
	assert.Contains(t, got, "page_view")
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, map[string]bool{"google-analytics": true}, res.Receipts[0].ConsentChoices)
}

func TestRunRealtimeHonoursCancellation(t *testing.T) {
	s, err := Parse([]byte(`
steps:
  - advance: 1m
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Run(ctx, s, Options{Realtime: true, Logger: logger.Discard()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunPersistsReceiptsToSlot(t *testing.T) {
	s, err := Parse([]byte(`
steps:
  - install: true
  - advance: 100ms
  - hydrate: {google-analytics: false}
  - save: true
`))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "receipts.json")
	_, err = Run(context.Background(), s, Options{Logger: logger.Discard(), Slot: slot.NewFile(path)})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"receipt_id":"receipt_`)
}

func TestParseRejectsAmbiguousSteps(t *testing.T) {
	_, err := Parse([]byte(`
steps:
  - save: true
    show: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one action")

	_, err = Parse([]byte(`steps: []`))
	require.Error(t, err)

	_, err = Parse([]byte(`
steps:
  - notify: {data: {}}
`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 9)
	assert.Equal(t, "early_page_view", s.Early[0].Name())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
