// Package protection keeps services that belong to several purposes from
// being switched off when only one of their purposes is.
package protection

import (
	"log/slog"
	"slices"

	"klarogeo/internal/consent/manager"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/loop"
)

// Guard reconciles multi-purpose services after a purpose is toggled off.
// Reconciliation is best effort and runs once per toggle, on the tick after
// the widget has finished its own handling. Methods must be called from the
// pipeline scheduler.
type Guard struct {
	sched    loop.Scheduler
	source   *manager.Source
	purposes map[string][]string
	toggled  map[string]bool
	before   map[string]map[string]bool
	logger   *slog.Logger
	onFix    func(service string)
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithCorrectionHook is called for every service restored to granted.
func WithCorrectionHook(fn func(service string)) Option {
	return func(g *Guard) {
		g.onFix = fn
	}
}

// New creates a Guard for the given service → purposes membership.
func New(sched loop.Scheduler, source *manager.Source, purposes map[string][]string, opts ...Option) *Guard {
	g := &Guard{
		sched:    sched,
		source:   source,
		purposes: purposes,
		toggled:  make(map[string]bool),
		before:   make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Discard()
	}
	return g
}

// PurposeToggled records a purpose-level toggle. It must be called before
// the widget applies the toggle to the member services: turning a purpose
// off snapshots its members' consent and schedules a reconciliation pass.
func (g *Guard) PurposeToggled(purpose string, enabled bool) {
	g.toggled[purpose] = enabled
	if enabled {
		delete(g.before, purpose)
		return
	}
	g.before[purpose] = g.snapshot(purpose)
	g.sched.Post(func() {
		g.Reconcile(purpose)
	})
}

// snapshot returns the consent of every service that belongs to purpose.
func (g *Guard) snapshot(purpose string) map[string]bool {
	m, ok := g.source.Resolve()
	if !ok {
		return nil
	}
	consents := m.Consents()
	out := make(map[string]bool)
	for service, purposes := range g.purposes {
		if slices.Contains(purposes, purpose) {
			out[service] = consents[service]
		}
	}
	return out
}

// Reconcile undoes the side effect of switching disabled off: a service of
// that purpose which was granted before the toggle, is denied now and still
// has another enabled purpose is granted again. Services outside the purpose
// and services the user had already denied are left alone. It returns the
// corrected services.
func (g *Guard) Reconcile(disabled string) []string {
	before := g.before[disabled]
	delete(g.before, disabled)

	m, ok := g.source.Resolve()
	if !ok {
		g.logger.Debug("multi-purpose check skipped, no consent manager")
		return nil
	}
	consents := m.Consents()

	var fixed []string
	for _, service := range g.multiPurpose() {
		if !before[service] || consents[service] {
			continue
		}
		for _, purpose := range g.purposes[service] {
			if purpose == disabled {
				continue
			}
			if g.enabled(purpose, service, consents) {
				fixed = append(fixed, service)
				break
			}
		}
	}

	for _, service := range fixed {
		manager.SetConsent(m, service, true)
		g.logger.Debug("restored multi-purpose service", "service", service, "disabled_purpose", disabled)
		if g.onFix != nil {
			g.onFix(service)
		}
	}
	return fixed
}

// enabled reports whether purpose is on. An explicit toggle wins; otherwise
// the purpose counts as on when another of its services is granted.
func (g *Guard) enabled(purpose, except string, consents map[string]bool) bool {
	if on, ok := g.toggled[purpose]; ok {
		return on
	}
	for service, purposes := range g.purposes {
		if service == except || !slices.Contains(purposes, purpose) {
			continue
		}
		if consents[service] {
			return true
		}
	}
	return false
}

func (g *Guard) multiPurpose() []string {
	var out []string
	for service, purposes := range g.purposes {
		if len(purposes) > 1 {
			out = append(out, service)
		}
	}
	slices.Sort(out)
	return out
}
