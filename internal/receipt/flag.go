package receipt

import (
	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
)

// EventLookup finds the most recent event matching a predicate.
// Implemented by datalayer.Log and datalayer.Queue.
type EventLookup interface {
	Last(fn func(datalayer.Event) bool) (datalayer.Event, bool)
}

// LoggingEnabled resolves whether receipts go to the remote endpoint: the
// most recent event carrying the consent-logging flag, else fallback, else
// true. Sources are searched in order, newest first; pass events still
// waiting to reach the log ahead of the log itself.
func LoggingEnabled(fallback *bool, sources ...EventLookup) bool {
	for _, src := range sources {
		if src == nil {
			continue
		}
		e, ok := src.Last(hasLoggingFlag)
		if ok {
			return e[models.KeyEnableConsentLogging].(bool)
		}
	}
	if fallback != nil {
		return *fallback
	}
	return true
}

func hasLoggingFlag(e datalayer.Event) bool {
	_, ok := e[models.KeyEnableConsentLogging].(bool)
	return ok
}
