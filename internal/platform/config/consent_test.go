package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/consent/models"
)

const sampleConsent = `
debug: true
consent_mode_services:
  ad_storage: google-tag-manager
  analytics_storage: google-analytics
parent_child:
  google-tag-manager: [google-analytics, google-ads]
services:
  - name: google-analytics
    purposes: [analytics, marketing]
  - name: ad-storage
    consent_mode: true
    consent_mode_key: ad_storage
debounce_ms: 20
gtm_mode: true
gtm_service: google-tag-manager
receipts:
  endpoint: https://example.org/wp-admin/admin-ajax.php
  template_name: eu-strict
  country_code: DE
`

func TestParseConsent(t *testing.T) {
	cfg, err := ParseConsent([]byte(sampleConsent))
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "google-analytics", cfg.ConsentModeServices["analytics_storage"])
	assert.Equal(t, []string{"google-analytics", "google-ads"}, cfg.ParentChild["google-tag-manager"])
	assert.Equal(t, 20*time.Millisecond, cfg.Debounce())
	assert.True(t, cfg.GTMMode)
	assert.True(t, cfg.ConsentModeConfigured())
	assert.Equal(t, map[string][]string{"google-analytics": {"analytics", "marketing"}}, cfg.Purposes())
	assert.Equal(t, models.ServiceConfig{Name: "ad-storage", ConsentMode: true, ConsentModeKey: "ad_storage"}, cfg.Services[1])
	assert.Equal(t, "DE", cfg.Receipts.CountryCode)
}

func TestConsentDefaults(t *testing.T) {
	var cfg Consent
	assert.Equal(t, DefaultDebounce, cfg.Debounce())
	assert.Equal(t, DefaultDuplicateWindow, cfg.DuplicateWindow())
	assert.True(t, cfg.SuppressIntermediate())
	assert.Equal(t, []string{models.NotificationInitialConsents, models.NotificationSaveConsents}, cfg.Forwarded())
	assert.False(t, cfg.ConsentModeConfigured())
	assert.Equal(t, DefaultManagerRetries, cfg.Retries())
	assert.Equal(t, DefaultStorageKey, cfg.Receipts.Key())
	assert.Equal(t, DefaultReceiptCapacity, cfg.Receipts.Limit())
	assert.Equal(t, DefaultReceiptAction, cfg.Receipts.FormAction())
}

func TestConsentExplicitZeroes(t *testing.T) {
	cfg, err := ParseConsent([]byte("debounce_ms: 0\nsuppress_intermediate_events: false\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Debounce())
	assert.False(t, cfg.SuppressIntermediate())
}

func TestParseConsentRejectsInvalid(t *testing.T) {
	_, err := ParseConsent([]byte("receipts:\n  endpoint: not-a-url\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipts.endpoint must be a valid url")

	_, err = ParseConsent([]byte("debounce_ms: [1]\n"))
	require.Error(t, err)

	_, err = ParseConsent([]byte("default_signals:\n  ad_storage: maybe\n"))
	require.Error(t, err)

	cfg, err := ParseConsent([]byte("default_signals:\n  ad_storage: denied\n"))
	require.NoError(t, err)
	assert.Equal(t, models.SignalDenied, cfg.DefaultSignals["ad_storage"])
}

func TestLoadConsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConsent), 0o600))

	cfg, err := LoadConsent(path)
	require.NoError(t, err)
	assert.Equal(t, "eu-strict", cfg.Receipts.TemplateName)

	_, err = LoadConsent(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("KLARO_GEO_ADDR", ":9090")
	t.Setenv("KLARO_GEO_NONCE_TTL", "1h")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, time.Hour, cfg.NonceTTL)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, DefaultReceiptAction, cfg.ReceiptAction)
	assert.NotEmpty(t, cfg.NonceSecret)
}
