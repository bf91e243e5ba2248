package manager

import (
	"klarogeo/internal/consent/models"
	"klarogeo/internal/platform/loop"
)

// Memory is an in-memory consent manager. Hydration from persisted state is
// asynchronous, as with the real widget: Hydrate only takes effect on the next
// scheduler tick. Methods must be called from the scheduler.
type Memory struct {
	sched     loop.Scheduler
	consents  models.State
	observers []Observer
}

// NewMemory creates an empty manager.
func NewMemory(sched loop.Scheduler) *Memory {
	return &Memory{sched: sched, consents: models.State{}}
}

// Consents returns the live consent map.
func (m *Memory) Consents() models.State {
	return m.consents
}

func (m *Memory) Watch(o Observer) {
	m.observers = append(m.observers, o)
}

// Hydrate loads persisted consent on the next tick and announces it with
// initialConsents.
func (m *Memory) Hydrate(state models.State) {
	saved := state.Clone()
	m.sched.Post(func() {
		for k, v := range saved {
			m.consents[k] = v
		}
		m.Notify(models.NotificationInitialConsents, m.consents.Clone())
	})
}

// UpdateConsent sets one service and announces the new state with consents.
func (m *Memory) UpdateConsent(service string, granted bool) {
	m.consents[service] = granted
	m.Notify(models.NotificationConsents, m.consents.Clone())
}

// Save announces the current state as the user's saved choice.
func (m *Memory) Save() {
	m.Notify(models.NotificationSaveConsents, map[string]any{
		"consents": m.consents.Clone(),
		"type":     "save",
	})
	m.Notify(models.NotificationApplyConsents, m.consents.Clone())
}

// Notify delivers name and data to every observer in registration order.
func (m *Memory) Notify(name string, data any) {
	for _, o := range m.observers {
		o.Update(name, data)
	}
}

// StaticWidget is a Widget whose manager appears once Install is called.
type StaticWidget struct {
	manager Manager
	shown   int
}

// Install makes m the widget's manager.
func (w *StaticWidget) Install(m Manager) {
	w.manager = m
}

func (w *StaticWidget) Manager() (Manager, bool) {
	return w.manager, w.manager != nil
}

// Show opens the consent modal.
func (w *StaticWidget) Show() {
	w.shown++
}

// Shown returns how many times the modal was opened.
func (w *StaticWidget) Shown() int {
	return w.shown
}
