// Package manager describes the consent manager capability surface the
// pipeline consumes, the accessor that locates a manager, and an in-memory
// manager used by the replay tool and tests.
package manager

import (
	"log/slog"
	"time"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/loop"
)

// Observer receives manager notifications.
type Observer interface {
	Update(name string, data any)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(name string, data any)

func (f ObserverFunc) Update(name string, data any) {
	f(name, data)
}

// Manager tracks per-service consent. Consents returns the live map owned by
// the manager; callers must not keep it across ticks.
type Manager interface {
	Consents() models.State
	Watch(o Observer)
}

// ConsentUpdater is the optional capability to change one service's consent
// through the manager.
type ConsentUpdater interface {
	UpdateConsent(service string, granted bool)
}

// Widget is the consent widget. Manager reports false while the widget has
// not created its manager yet.
type Widget interface {
	Manager() (Manager, bool)
	Show()
}

// SetConsent changes one service's consent, through UpdateConsent when the
// manager supports it and by direct assignment into the live map otherwise.
func SetConsent(m Manager, service string, granted bool) {
	if u, ok := m.(ConsentUpdater); ok {
		u.UpdateConsent(service, granted)
		return
	}
	if consents := m.Consents(); consents != nil {
		consents[service] = granted
	}
}

// DefaultPollInterval spaces manager lookups while waiting for the widget.
const DefaultPollInterval = 100 * time.Millisecond

// Source resolves the consent manager. Lookup order: the widget's current
// manager, then the manager pinned with Pin. A Source is validated once at
// construction; callers never query the widget themselves.
type Source struct {
	widget   Widget
	pinned   Manager
	interval time.Duration
	logger   *slog.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithPinned sets the fallback manager used when the widget has none.
func WithPinned(m Manager) SourceOption {
	return func(s *Source) {
		s.pinned = m
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) SourceOption {
	return func(s *Source) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSourceLogger sets the logger used while polling for the manager.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = l
	}
}

// NewSource creates a Source. widget may be nil.
func NewSource(widget Widget, opts ...SourceOption) *Source {
	s := &Source{widget: widget, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	return s
}

// Resolve returns the current manager.
func (s *Source) Resolve() (Manager, bool) {
	if s.widget != nil {
		if m, ok := s.widget.Manager(); ok && m != nil {
			return m, true
		}
	}
	if s.pinned != nil {
		return s.pinned, true
	}
	return nil, false
}

// State returns a copy of the current manager's consent state.
func (s *Source) State() (models.State, bool) {
	m, ok := s.Resolve()
	if !ok {
		return nil, false
	}
	return m.Consents().Clone(), true
}

// Await calls done with the manager once it resolves, polling on sched up to
// retries times. When retries run out done receives (nil, false) and the
// caller continues without a manager.
func (s *Source) Await(sched loop.Scheduler, retries int, done func(Manager, bool)) {
	attempt := 0
	var poll func()
	poll = func() {
		if m, ok := s.Resolve(); ok {
			done(m, true)
			return
		}
		attempt++
		if attempt > retries {
			s.logger.Warn("consent manager unavailable, continuing without it", "attempts", attempt)
			done(nil, false)
			return
		}
		sched.AfterFunc(s.interval, poll)
	}
	poll()
}
