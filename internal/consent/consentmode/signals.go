package consentmode

import (
	"klarogeo/internal/consent/models"
)

// Config is the consent-mode slice of the pipeline configuration.
type Config struct {
	// ServiceMap maps a signal key (ad_storage, analytics_storage) to the
	// service whose consent bit drives it.
	ServiceMap map[string]string
	// ParentChild maps a parent service to the services that depend on it.
	ParentChild map[string][]string
	Services    []models.ServiceConfig
}

// Configured reports whether consent-mode augmentation is enabled.
func (c Config) Configured() bool {
	return len(c.ServiceMap) > 0
}

// Compute builds the full signal map for state. The map is always rebuilt
// from scratch:
//
//  1. each configured signal key takes its service's consent bit;
//  2. a child of a denied parent is denied, whatever its own bit says;
//  3. every service in state also gets its derived key. Keys already set by
//     steps 1 and 2 keep their value.
func Compute(state models.State, cfg Config) models.SignalMap {
	effective := Effective(state, cfg.ParentChild)

	signals := make(models.SignalMap, len(cfg.ServiceMap)+len(state))
	for key, service := range cfg.ServiceMap {
		signals[key] = models.SignalFor(effective[service])
	}
	for service := range state {
		key := ResolveConsentKey(service, cfg.Services)
		if _, ok := signals[key]; ok {
			continue
		}
		signals[key] = models.SignalFor(effective[service])
	}
	return signals
}

// Effective returns a copy of state with every child of a denied parent
// forced to false. A parent missing from state counts as denied.
func Effective(state models.State, parentChild map[string][]string) models.State {
	effective := state.Clone()
	for parent, children := range parentChild {
		if state[parent] {
			continue
		}
		for _, child := range children {
			if _, ok := effective[child]; ok {
				effective[child] = false
			}
		}
	}
	return effective
}
