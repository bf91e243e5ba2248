package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"klarogeo/internal/consent/models"
	"klarogeo/pkg/validation"
)

const (
	DefaultDebounce        = 50 * time.Millisecond
	DefaultDuplicateWindow = 3 * time.Second
	DefaultManagerRetries  = 50
	DefaultReceiptCapacity = 10
	DefaultStorageKey      = "klaro_geo_consent_receipts"
)

// Consent is the per-deployment pipeline configuration. Zero values fall back
// to documented defaults through the accessor methods.
type Consent struct {
	Debug bool `yaml:"debug"`

	// ConsentModeServices maps a consent-mode signal key (ad_storage,
	// analytics_storage, ...) to the service whose consent controls it.
	ConsentModeServices map[string]string `yaml:"consent_mode_services"`
	// ParentChild maps a parent service to the services that depend on it.
	ParentChild map[string][]string    `yaml:"parent_child"`
	Services    []models.ServiceConfig `yaml:"services" validate:"dive"`

	SuppressIntermediateEvents *bool `yaml:"suppress_intermediate_events"`
	// ForwardedNotifications are manager notification names always written
	// to the event log, regardless of SuppressIntermediateEvents.
	ForwardedNotifications []string `yaml:"forwarded_notifications"`

	DebounceMS        *int `yaml:"debounce_ms" validate:"omitempty,gte=0,lte=10000"`
	DuplicateWindowMS *int `yaml:"duplicate_window_ms" validate:"omitempty,gte=0"`
	QueueCapacity     int  `yaml:"queue_capacity" validate:"gte=0,lte=10000"`
	ManagerRetries    int  `yaml:"manager_retries" validate:"gte=0"`

	// DefaultSignals, when set, are written as gtag('consent', 'default')
	// before any update.
	DefaultSignals models.SignalMap `yaml:"default_signals" validate:"dive,oneof=granted denied"`

	GTMMode             bool   `yaml:"gtm_mode"`
	GTMService          string `yaml:"gtm_service"`
	AdvancedConsentMode bool   `yaml:"advanced_consent_mode"`

	Receipts Receipts `yaml:"receipts"`
}

// Receipts configures receipt capture and delivery.
type Receipts struct {
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Action   string `yaml:"action"`
	Nonce    string `yaml:"nonce"`
	// EnableLogging is the global default for remote receipt logging; the
	// most recent config event in the log takes precedence over it.
	EnableLogging *bool  `yaml:"enable_logging"`
	StorageKey    string `yaml:"storage_key"`
	Capacity      int    `yaml:"capacity" validate:"gte=0,lte=100"`

	TemplateName     string         `yaml:"template_name"`
	TemplateSource   string         `yaml:"template_source"`
	CountryCode      string         `yaml:"country_code"`
	RegionCode       string         `yaml:"region_code"`
	AdminOverride    bool           `yaml:"admin_override"`
	TemplateSettings map[string]any `yaml:"template_settings"`
	KlaroConfig      map[string]any `yaml:"klaro_config"`
}

// LoadConsent reads and validates a YAML pipeline configuration file.
func LoadConsent(path string) (Consent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Consent{}, fmt.Errorf("read consent config: %w", err)
	}
	return ParseConsent(raw)
}

// ParseConsent decodes and validates a YAML pipeline configuration.
func ParseConsent(raw []byte) (Consent, error) {
	var cfg Consent
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Consent{}, fmt.Errorf("decode consent config: %w", err)
	}
	if err := validation.Validate(&cfg); err != nil {
		return Consent{}, fmt.Errorf("invalid consent config: %w", err)
	}
	return cfg, nil
}

// Debounce returns the consent-mode debounce delay.
func (c Consent) Debounce() time.Duration {
	if c.DebounceMS == nil {
		return DefaultDebounce
	}
	return time.Duration(*c.DebounceMS) * time.Millisecond
}

// DuplicateWindow returns the window inside which a repeated notification
// with the same payload is ignored.
func (c Consent) DuplicateWindow() time.Duration {
	if c.DuplicateWindowMS == nil {
		return DefaultDuplicateWindow
	}
	return time.Duration(*c.DuplicateWindowMS) * time.Millisecond
}

// SuppressIntermediate reports whether notifications outside the forwarded
// set stay out of the event log. Defaults to true.
func (c Consent) SuppressIntermediate() bool {
	if c.SuppressIntermediateEvents == nil {
		return true
	}
	return *c.SuppressIntermediateEvents
}

// Forwarded returns the notification names that always reach the event log.
func (c Consent) Forwarded() []string {
	if len(c.ForwardedNotifications) == 0 {
		return []string{models.NotificationInitialConsents, models.NotificationSaveConsents}
	}
	return slices.Clone(c.ForwardedNotifications)
}

// ConsentModeConfigured reports whether consent-mode augmentation is enabled.
func (c Consent) ConsentModeConfigured() bool {
	return len(c.ConsentModeServices) > 0
}

// Retries returns how many scheduler ticks to wait for the consent manager.
func (c Consent) Retries() int {
	if c.ManagerRetries <= 0 {
		return DefaultManagerRetries
	}
	return c.ManagerRetries
}

// Purposes returns the purpose membership of every service that declares one.
func (c Consent) Purposes() map[string][]string {
	out := make(map[string][]string)
	for _, svc := range c.Services {
		if len(svc.Purposes) > 0 {
			out[svc.Name] = slices.Clone(svc.Purposes)
		}
	}
	return out
}

// Key returns the local storage slot receipts are kept under.
func (r Receipts) Key() string {
	if r.StorageKey == "" {
		return DefaultStorageKey
	}
	return r.StorageKey
}

// Limit returns the local receipt ring-buffer size.
func (r Receipts) Limit() int {
	if r.Capacity <= 0 {
		return DefaultReceiptCapacity
	}
	return r.Capacity
}

// FormAction returns the action field sent with receipt submissions.
func (r Receipts) FormAction() string {
	if r.Action == "" {
		return DefaultReceiptAction
	}
	return r.Action
}
