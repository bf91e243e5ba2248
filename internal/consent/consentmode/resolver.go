// Package consentmode derives Google Consent Mode signals from per-service
// consent state and applies them, debounced, to the consent-signal API and
// the consent queue.
package consentmode

import (
	"strings"

	"klarogeo/internal/consent/models"
)

// ResolveConsentKey returns the consent signal key controlled by service.
// A service configured as a dedicated consent-mode control returns its
// explicit key verbatim; any other service yields "{name}_consent" with
// hyphens turned into underscores.
func ResolveConsentKey(service string, services []models.ServiceConfig) string {
	for _, cfg := range services {
		if cfg.Name == service && cfg.ConsentMode && cfg.ConsentModeKey != "" {
			return cfg.ConsentModeKey
		}
	}
	return strings.ReplaceAll(service, "-", "_") + "_consent"
}
