package models

import (
	"maps"
	"slices"
)

// State maps a consent-widget service name to its granted flag. It is owned by
// the consent manager; the pipeline only reads it.
type State map[string]bool

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Granted returns the names of granted services in sorted order.
func (s State) Granted() []string {
	granted := make([]string, 0, len(s))
	for name, ok := range s {
		if ok {
			granted = append(granted, name)
		}
	}
	slices.Sort(granted)
	return granted
}

// Signal is a Google Consent Mode value.
type Signal string

const (
	SignalGranted Signal = "granted"
	SignalDenied  Signal = "denied"
)

// SignalFor converts a consent bit into a Signal.
func SignalFor(granted bool) Signal {
	if granted {
		return SignalGranted
	}
	return SignalDenied
}

// SignalMap maps a consent-mode key (ad_storage, analytics_storage, or a
// derived {service}_consent key) to its signal. A SignalMap is always a full
// snapshot; it is recomputed, never patched.
type SignalMap map[string]Signal

// Equal reports whether both maps hold the same keys and values.
func (m SignalMap) Equal(other SignalMap) bool {
	return maps.Equal(m, other)
}

// Clone returns an independent copy of the map.
func (m SignalMap) Clone() SignalMap {
	return maps.Clone(m)
}

// ServiceConfig is the per-service slice of the widget configuration the
// pipeline cares about.
type ServiceConfig struct {
	Name string `yaml:"name" json:"name"`
	// ConsentMode marks a service that is itself a dedicated consent-mode
	// control; ConsentModeKey is the signal key it drives.
	ConsentMode    bool     `yaml:"consent_mode" json:"consent_mode"`
	ConsentModeKey string   `yaml:"consent_mode_key" json:"consent_mode_key,omitempty"`
	Purposes       []string `yaml:"purposes" json:"purposes,omitempty"`
}

// Notification names emitted by the consent manager.
const (
	NotificationInitialConsents = "initialConsents"
	NotificationSaveConsents    = "saveConsents"
	NotificationConsents        = "consents"
	NotificationApplyConsents   = "applyConsents"
)

// Event names written to the event log.
const (
	// EventConsentUpdate is the canonical consent-mode update. The queue
	// releases buffered events when it sees this name reach the log.
	EventConsentUpdate = "klaro_geo_consent_mode_update"
	// EventQueueFlushed terminates a queue flush and carries the flushed count.
	EventQueueFlushed = "klaro_geo_queue_flushed"
	// EventKlaro wraps a forwarded manager notification.
	EventKlaro = "klaro_geo_klaro_event"
	// EventInitialSnapshot is the one-off consent snapshot pushed on attach.
	EventInitialSnapshot = "klaro_geo_initial_consents"
	// EventConfigLoaded carries per-deployment flags such as consent logging.
	EventConfigLoaded = "klaro_geo_config_loaded"
)

// Event payload keys.
const (
	KeyEvent                = "event"
	KeyTrigger              = "klaro_geo_trigger"
	KeyConsentMode          = "klaro_geo_consent_mode"
	KeyGrantedServices      = "klaro_geo_granted_services"
	KeyEventsFlushed        = "klaro_geo_events_flushed"
	KeyKlaroEventName       = "klaro_event_name"
	KeyKlaroEventData       = "klaro_event_data"
	KeyConsents             = "klaro_geo_consents"
	KeyEnableConsentLogging = "klaro_geo_enable_consent_logging"
)
