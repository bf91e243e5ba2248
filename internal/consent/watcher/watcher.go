// Package watcher binds the pipeline to the consent manager's notifications
// and decides what each one sets in motion.
package watcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"klarogeo/internal/consent/manager"
	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/loop"
)

// DefaultDuplicateWindow is how long an identical notification is ignored.
const DefaultDuplicateWindow = 3 * time.Second

// Status is the watcher's confirmation state.
type Status int

const (
	Unconfirmed Status = iota
	Confirmed
)

func (s Status) String() string {
	if s == Confirmed {
		return "confirmed"
	}
	return "unconfirmed"
}

// Updater receives consent-mode updates.
type Updater interface {
	Update(state models.State, trigger string)
}

// Pusher accepts events for the event log.
type Pusher interface {
	Push(e datalayer.Event)
}

// Metrics receives watcher observations; nil disables reporting.
type Metrics interface {
	IncNotification(name, outcome string)
}

// Watcher classifies manager notifications:
//
//   - initialConsents runs the consent-mode update;
//   - saveConsents runs the update and records a receipt;
//   - anything else is inert, and reaches the event log only when
//     intermediate events are not suppressed.
//
// All methods must be called from the pipeline scheduler.
type Watcher struct {
	sched   loop.Scheduler
	source  *manager.Source
	queue   Pusher
	updater Updater
	record  func(models.State)

	forwarded []string
	suppress  bool
	window    time.Duration

	logger  *slog.Logger
	metrics Metrics

	status   Status
	manager  manager.Manager
	lastSig  string
	lastSeen time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithReceipts sets the function that records a receipt for a saved choice.
func WithReceipts(record func(models.State)) Option {
	return func(w *Watcher) {
		w.record = record
	}
}

// WithForwarded sets the notification names always written to the event log.
func WithForwarded(names []string) Option {
	return func(w *Watcher) {
		w.forwarded = slices.Clone(names)
	}
}

// WithSuppressIntermediate controls whether other notifications are kept out
// of the event log.
func WithSuppressIntermediate(suppress bool) Option {
	return func(w *Watcher) {
		w.suppress = suppress
	}
}

// WithDuplicateWindow overrides DefaultDuplicateWindow.
func WithDuplicateWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.window = d
		}
	}
}

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithMetrics counts notifications by name and outcome.
func WithMetrics(m Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// New creates a Watcher. Events go into queue; consent-mode work goes to
// updater.
func New(sched loop.Scheduler, source *manager.Source, queue Pusher, updater Updater, opts ...Option) *Watcher {
	w := &Watcher{
		sched:     sched,
		source:    source,
		queue:     queue,
		updater:   updater,
		forwarded: []string{models.NotificationInitialConsents, models.NotificationSaveConsents},
		suppress:  true,
		window:    DefaultDuplicateWindow,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Discard()
	}
	return w
}

// Status returns the confirmation state.
func (w *Watcher) Status() Status {
	return w.status
}

// Attach subscribes to m and schedules the initial snapshot for the next
// tick, giving the manager time to hydrate from storage.
func (w *Watcher) Attach(m manager.Manager) {
	w.manager = m
	captured := m.Consents().Clone()
	m.Watch(w)
	w.logger.Debug("attached to consent manager", "services", len(captured))

	w.sched.Post(func() {
		current := w.manager
		if fresh, ok := w.source.Resolve(); ok {
			current = fresh
		}
		state := current.Consents().Clone()
		if len(state) == 0 {
			state = captured
		}
		w.queue.Push(datalayer.NewEvent(models.EventInitialSnapshot, map[string]any{
			models.KeyConsents:        map[string]bool(state),
			models.KeyGrantedServices: state.Granted(),
		}))
	})
}

// Update handles a manager notification.
func (w *Watcher) Update(name string, data any) {
	switch name {
	case models.NotificationInitialConsents:
		if w.status == Confirmed {
			w.logger.Debug("initial consents after confirmation ignored")
			w.observe(name, "inert")
			return
		}
		w.handle(name, data, false)
	case models.NotificationSaveConsents:
		w.handle(name, data, true)
	default:
		w.forward(name, data)
		w.observe(name, "inert")
	}
}

// NotifyModalSave handles a save coming from the consent modal's own save
// button rather than from the manager. It is dropped when the manager already
// reported the same choice inside the duplicate window.
func (w *Watcher) NotifyModalSave() {
	w.handle(models.NotificationSaveConsents, nil, true)
}

func (w *Watcher) handle(name string, data any, save bool) {
	state, ok := w.currentState()
	if !ok {
		w.logger.Warn("consent notification without a manager", "event", name)
		state = stateFromPayload(data)
	}

	sig := signature(name, state)
	now := w.sched.Now()
	if sig == w.lastSig && now.Sub(w.lastSeen) < w.window {
		w.logger.Debug("duplicate consent notification ignored", "event", name)
		w.observe(name, "duplicate")
		return
	}
	w.lastSig = sig
	w.lastSeen = now

	if data != nil {
		w.forward(name, data)
	}

	w.status = Confirmed
	w.updater.Update(state, name)
	if save && w.record != nil {
		w.record(state)
	}
	w.observe(name, "handled")
}

func (w *Watcher) forward(name string, data any) {
	if w.suppress && !slices.Contains(w.forwarded, name) {
		return
	}
	w.queue.Push(datalayer.NewEvent(models.EventKlaro, map[string]any{
		models.KeyKlaroEventName: name,
		models.KeyKlaroEventData: data,
	}))
}

func (w *Watcher) currentState() (models.State, bool) {
	if m, ok := w.source.Resolve(); ok {
		return m.Consents().Clone(), true
	}
	if w.manager != nil {
		return w.manager.Consents().Clone(), true
	}
	return nil, false
}

func (w *Watcher) observe(name, outcome string) {
	if w.metrics != nil {
		w.metrics.IncNotification(name, outcome)
	}
}

// signature identifies a notification by name and the consent state it
// carries; map keys encode sorted.
func signature(name string, state models.State) string {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Sprintf("%s|%v", name, state)
	}
	return name + "|" + string(raw)
}

// stateFromPayload recovers consent state from a notification payload when
// no manager is reachable.
func stateFromPayload(data any) models.State {
	switch v := data.(type) {
	case models.State:
		return v.Clone()
	case map[string]bool:
		return models.State(v).Clone()
	case map[string]any:
		if inner, ok := v["consents"]; ok {
			return stateFromPayload(inner)
		}
		state := models.State{}
		for k, b := range v {
			state[k] = b == true
		}
		return state
	default:
		return models.State{}
	}
}
