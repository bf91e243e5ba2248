package models

import (
	"encoding/json"
	"maps"
	"time"
)

// Receipt is an immutable record of a user's consent choices at one point in
// time.
type Receipt struct {
	ReceiptID        string          `json:"receipt_id" validate:"required,notblank,max=128"`
	Timestamp        int64           `json:"timestamp" validate:"gt=0"`
	ConsentChoices   map[string]bool `json:"consent_choices" validate:"required"`
	TemplateName     string          `json:"template_name" validate:"max=128"`
	TemplateSource   string          `json:"template_source" validate:"max=64"`
	CountryCode      string          `json:"country_code" validate:"max=8"`
	RegionCode       string          `json:"region_code" validate:"max=16"`
	AdminOverride    bool            `json:"admin_override"`
	TemplateSettings map[string]any  `json:"template_settings"`
	KlaroConfig      map[string]any  `json:"klaro_config"`
}

// Context is the deployment information stamped on every receipt.
type Context struct {
	TemplateName     string
	TemplateSource   string
	CountryCode      string
	RegionCode       string
	AdminOverride    bool
	TemplateSettings map[string]any
	KlaroConfig      map[string]any
}

// Result is the receipt endpoint's response envelope.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Error is set locally when delivery failed before a response was read.
	Error string `json:"-"`
}

// Failure builds an unsuccessful Result carrying err.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// StrictChoices converts raw consent choices to booleans. Anything other
// than a literal true becomes false.
func StrictChoices(raw map[string]any) map[string]bool {
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		b, ok := v.(bool)
		out[k] = ok && b
	}
	return out
}

// UnmarshalJSON decodes a receipt, coercing consent choices strictly.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	type plain Receipt
	var aux struct {
		plain
		ConsentChoices map[string]any `json:"consent_choices"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Receipt(aux.plain)
	r.ConsentChoices = StrictChoices(aux.ConsentChoices)
	return nil
}

// Clone returns a deep copy of the receipt's maps.
func (r Receipt) Clone() Receipt {
	r.ConsentChoices = maps.Clone(r.ConsentChoices)
	r.TemplateSettings = maps.Clone(r.TemplateSettings)
	r.KlaroConfig = maps.Clone(r.KlaroConfig)
	return r
}

// Stored is a receipt as kept by the receipt service.
type Stored struct {
	Receipt    Receipt    `json:"receipt"`
	ReceivedAt time.Time  `json:"received_at"`
	Client     ClientInfo `json:"client"`
}

// ClientInfo describes the browser that submitted a receipt.
type ClientInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	CountryCode string
	Limit       int
}
