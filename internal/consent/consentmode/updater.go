package consentmode

import (
	"log/slog"
	"time"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/loop"
)

//go:generate mockgen -source=updater.go -destination=mocks/mocks.go -package=mocks SignalAPI

// DefaultDelay is the debounce window applied when none is configured.
const DefaultDelay = 50 * time.Millisecond

// SignalAPI is the external consent-signal API (gtag('consent', 'update')).
type SignalAPI interface {
	UpdateConsent(signals models.SignalMap)
}

// Pusher accepts events for the event log. The consent queue implements it.
type Pusher interface {
	Push(e datalayer.Event)
}

// StateReader returns the manager's current consent state. ok is false when
// no manager is reachable.
type StateReader func() (state models.State, ok bool)

// Metrics receives updater observations; nil disables reporting.
type Metrics interface {
	IncSignalsApplied(trigger string)
	IncUpdateSkipped(reason string)
}

// GTMGate describes a tag-management container that is itself gated behind
// consent.
type GTMGate struct {
	Enabled bool
	// Service is the container's own consent service name.
	Service string
	// Advanced marks deployments using advanced consent mode, where the
	// container loads regardless of consent.
	Advanced bool
}

// suppresses reports whether the queue-releasing update event must be held
// back: the container has not been granted yet and releasing the queue now
// would run ahead of it.
func (g GTMGate) suppresses(state models.State, trigger string) bool {
	return g.Enabled &&
		!g.Advanced &&
		trigger == models.NotificationInitialConsents &&
		!state[g.Service]
}

// Updater debounces consent-mode updates and applies them. All methods must
// be called from the pipeline scheduler.
type Updater struct {
	sched  loop.Scheduler
	cfg    Config
	queue  Pusher
	api    SignalAPI
	reader StateReader
	delay  time.Duration
	gate   GTMGate

	logger  *slog.Logger
	metrics Metrics

	timer   loop.Timer
	state   models.State
	trigger string
	last    models.SignalMap
}

// Option configures an Updater.
type Option func(*Updater)

// WithSignalAPI sets the consent-signal API. Without one, updates are logged
// and dropped.
func WithSignalAPI(api SignalAPI) Option {
	return func(u *Updater) {
		u.api = api
	}
}

// WithStateReader makes the updater re-read consent state when the debounce
// window elapses instead of using the state passed to Update.
func WithStateReader(r StateReader) Option {
	return func(u *Updater) {
		u.reader = r
	}
}

// WithDelay overrides DefaultDelay. Negative values are ignored.
func WithDelay(d time.Duration) Option {
	return func(u *Updater) {
		if d >= 0 {
			u.delay = d
		}
	}
}

// WithGTMGate enables suppression of the initial update event while a gated
// tag-management container is still denied.
func WithGTMGate(g GTMGate) Option {
	return func(u *Updater) {
		u.gate = g
	}
}

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = l
	}
}

// WithMetrics records applied and skipped updates.
func WithMetrics(m Metrics) Option {
	return func(u *Updater) {
		u.metrics = m
	}
}

// NewUpdater creates an Updater that pushes update events into queue.
func NewUpdater(sched loop.Scheduler, cfg Config, queue Pusher, opts ...Option) *Updater {
	u := &Updater{
		sched: sched,
		cfg:   cfg,
		queue: queue,
		delay: DefaultDelay,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = logger.Discard()
	}
	return u
}

// Update schedules a consent-mode update for trigger. Calls inside the
// debounce window replace the pending one; only the last runs, against the
// freshest state available when the window elapses.
func (u *Updater) Update(state models.State, trigger string) {
	if u.timer != nil {
		u.timer.Stop()
		u.incSkipped("debounced")
	}
	u.state = state.Clone()
	u.trigger = trigger
	u.timer = u.sched.AfterFunc(u.delay, u.fire)
}

// Pending reports whether a debounced update is waiting to run.
func (u *Updater) Pending() bool {
	return u.timer != nil
}

// LastApplied returns a copy of the most recently applied signal map.
func (u *Updater) LastApplied() models.SignalMap {
	return u.last.Clone()
}

func (u *Updater) fire() {
	u.timer = nil
	state, trigger := u.state, u.trigger
	u.state = nil
	if u.reader != nil {
		if fresh, ok := u.reader(); ok {
			state = fresh
		}
	}
	u.apply(state, trigger)
}

func (u *Updater) apply(state models.State, trigger string) {
	if !u.cfg.Configured() {
		u.logger.Debug("consent mode not configured, skipping update", "trigger", trigger)
		u.incSkipped("unconfigured")
		return
	}
	if u.api == nil {
		u.logger.Warn("consent signal API unavailable, skipping update", "trigger", trigger)
		u.incSkipped("no_api")
		return
	}

	signals := Compute(state, u.cfg)
	if u.last != nil && signals.Equal(u.last) {
		u.logger.Debug("consent mode signals unchanged", "trigger", trigger)
		u.incSkipped("unchanged")
		return
	}

	u.api.UpdateConsent(signals.Clone())
	u.logger.Debug("consent mode signals applied", "trigger", trigger, "signals", signals)
	if u.metrics != nil {
		u.metrics.IncSignalsApplied(trigger)
	}

	if u.gate.suppresses(state, trigger) {
		// leave the memo unset so the next notification emits the event
		u.logger.Debug("update event held until the tag manager is granted",
			"trigger", trigger,
			"gtm_service", u.gate.Service,
		)
		u.incSkipped("gtm_gated")
		return
	}
	u.last = signals

	consentMode := make(map[string]any, len(signals))
	for k, v := range signals {
		consentMode[k] = string(v)
	}
	u.queue.Push(datalayer.NewEvent(models.EventConsentUpdate, map[string]any{
		models.KeyTrigger:         trigger,
		models.KeyConsentMode:     consentMode,
		models.KeyGrantedServices: state.Granted(),
	}))
}

func (u *Updater) incSkipped(reason string) {
	if u.metrics != nil {
		u.metrics.IncUpdateSkipped(reason)
	}
}
