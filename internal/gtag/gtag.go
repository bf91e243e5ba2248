// Package gtag implements the Google Consent Mode API surface on top of the
// event log: each call is written as a gtag command record.
package gtag

import (
	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
)

// KeyCommand holds the gtag argument list in a command record.
const KeyCommand = "gtag"

// Client writes gtag('consent', ...) commands. Commands go straight to the
// log: they are the consent signal itself and must not wait behind the queue.
type Client struct {
	log *datalayer.Log
}

// New creates a client writing to log.
func New(log *datalayer.Log) *Client {
	return &Client{log: log}
}

// UpdateConsent writes gtag('consent', 'update', signals).
func (c *Client) UpdateConsent(signals models.SignalMap) {
	c.log.Append(command("consent", "update", toArgs(signals)))
}

// DefaultConsent writes gtag('consent', 'default', signals).
func (c *Client) DefaultConsent(signals models.SignalMap) {
	c.log.Append(command("consent", "default", toArgs(signals)))
}

// IsCommand reports whether e is a gtag command record and returns its args.
func IsCommand(e datalayer.Event) ([]any, bool) {
	args, ok := e[KeyCommand].([]any)
	return args, ok
}

func command(args ...any) datalayer.Event {
	return datalayer.Event{KeyCommand: args}
}

func toArgs(signals models.SignalMap) map[string]string {
	out := make(map[string]string, len(signals))
	for k, v := range signals {
		out[k] = string(v)
	}
	return out
}
