// Package datalayer models the page event log ("dataLayer") and the consent
// queue that is the single authorized writer in front of it.
package datalayer

import (
	"sync"

	"klarogeo/internal/consent/models"
)

// Event is an opaque event-log record. Only the conventional "event" field is
// interpreted; every other key is passed through untouched.
type Event map[string]any

// Name returns the event's "event" field, or "" when absent or not a string.
func (e Event) Name() string {
	name, _ := e[models.KeyEvent].(string)
	return name
}

// NewEvent builds an event with the given name and payload fields.
func NewEvent(name string, fields map[string]any) Event {
	e := make(Event, len(fields)+1)
	for k, v := range fields {
		e[k] = v
	}
	e[models.KeyEvent] = name
	return e
}

// Observer is called once for every append, in append order.
type Observer func(Event)

// Log is an append-only event log drained asynchronously by an external
// tag-management runtime. Observers intercept every write. An observer may
// append re-entrantly; the nested append is delivered to all observers only
// after the current one has been delivered to all of them, so every observer
// sees the exact order of Entries.
type Log struct {
	mu          sync.Mutex
	entries     []Event
	observers   []*observerEntry
	pending     []Event
	dispatching bool
}

type observerEntry struct {
	fn      Observer
	removed bool
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{}
}

// Append adds e to the log and delivers it to the observers.
func (l *Log) Append(e Event) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.pending = append(l.pending, e)
	if l.dispatching {
		l.mu.Unlock()
		return
	}
	l.dispatching = true
	l.mu.Unlock()

	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.dispatching = false
			l.mu.Unlock()
			return
		}
		next := l.pending[0]
		l.pending = l.pending[1:]
		observers := make([]*observerEntry, len(l.observers))
		copy(observers, l.observers)
		l.mu.Unlock()

		for _, o := range observers {
			if !o.removed {
				o.fn(next)
			}
		}
	}
}

// Intercept registers an observer for all future appends and returns a
// function that unregisters it.
func (l *Log) Intercept(fn Observer) func() {
	entry := &observerEntry{fn: fn}
	l.mu.Lock()
	l.observers = append(l.observers, entry)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		entry.removed = true
		for i, o := range l.observers {
			if o == entry {
				l.observers = append(l.observers[:i], l.observers[i+1:]...)
				return
			}
		}
	}
}

// Entries returns a snapshot of the log.
func (l *Log) Entries() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of appended events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Names returns the event names in log order; entries without a name yield "".
func (l *Log) Names() []string {
	entries := l.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

// Last returns the most recent event matching fn.
func (l *Log) Last(fn func(Event) bool) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if fn(l.entries[i]) {
			return l.entries[i], true
		}
	}
	return nil, false
}
