package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"klarogeo/internal/consent/manager"
	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/loop"
)

type updateCall struct {
	state   models.State
	trigger string
}

type recorder struct {
	events   []datalayer.Event
	updates  []updateCall
	receipts []models.State
}

func (r *recorder) Push(e datalayer.Event) { r.events = append(r.events, e) }

func (r *recorder) Update(state models.State, trigger string) {
	r.updates = append(r.updates, updateCall{state: state, trigger: trigger})
}

func (r *recorder) names() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name()
	}
	return out
}

type WatcherSuite struct {
	suite.Suite
	sched   *loop.Virtual
	widget  *manager.StaticWidget
	manager *manager.Memory
	rec     *recorder
	watcher *Watcher
}

func TestWatcherSuite(t *testing.T) {
	suite.Run(t, new(WatcherSuite))
}

func (s *WatcherSuite) SetupTest() {
	s.sched = loop.NewVirtual(time.Unix(1_700_000_000, 0))
	s.manager = manager.NewMemory(s.sched)
	s.widget = &manager.StaticWidget{}
	s.widget.Install(s.manager)
	s.rec = &recorder{}
	s.watcher = s.newWatcher()
}

func (s *WatcherSuite) newWatcher(opts ...Option) *Watcher {
	base := []Option{WithReceipts(func(st models.State) { s.rec.receipts = append(s.rec.receipts, st) })}
	return New(s.sched, manager.NewSource(s.widget), s.rec, s.rec, append(base, opts...)...)
}

// TestInitialSnapshotDeferredOneTick verifies the snapshot is taken after
// the manager's asynchronous hydration, not at attach time.
func (s *WatcherSuite) TestInitialSnapshotDeferredOneTick() {
	s.manager.Hydrate(models.State{"svc-a": true, "svc-b": false})
	s.watcher.Attach(s.manager)
	s.Empty(s.rec.events)

	s.sched.RunPending()
	s.Require().NotEmpty(s.rec.events)
	snapshot := s.rec.events[len(s.rec.events)-1]
	s.Equal(models.EventInitialSnapshot, snapshot.Name())
	s.Equal(map[string]bool{"svc-a": true, "svc-b": false}, snapshot[models.KeyConsents])
	s.Equal([]string{"svc-a"}, snapshot[models.KeyGrantedServices])
}

// TestInitialSnapshotPrefersFresherManager verifies a manager that became
// available after attach supplies the snapshot.
func (s *WatcherSuite) TestInitialSnapshotPrefersFresherManager() {
	stale := manager.NewMemory(s.sched)
	stale.Consents()["old"] = true
	s.watcher.Attach(stale)

	fresh := manager.NewMemory(s.sched)
	fresh.Consents()["new"] = true
	s.widget.Install(fresh)

	s.sched.RunPending()
	s.Equal(map[string]bool{"new": true}, s.rec.events[0][models.KeyConsents])
}

func (s *WatcherSuite) TestInitialConsentsTriggersUpdateOnly() {
	s.watcher.Attach(s.manager)
	s.manager.Hydrate(models.State{"svc-a": true})
	s.sched.RunPending()

	s.Require().Len(s.rec.updates, 1)
	s.Equal(models.NotificationInitialConsents, s.rec.updates[0].trigger)
	s.Equal(models.State{"svc-a": true}, s.rec.updates[0].state)
	s.Empty(s.rec.receipts)
	s.Equal(Confirmed, s.watcher.Status())
}

func (s *WatcherSuite) TestSaveConsentsTriggersUpdateAndReceipt() {
	s.watcher.Attach(s.manager)
	s.manager.Consents()["svc-a"] = false
	s.manager.Save()

	s.Require().Len(s.rec.updates, 1)
	s.Equal(models.NotificationSaveConsents, s.rec.updates[0].trigger)
	s.Equal([]models.State{{"svc-a": false}}, s.rec.receipts)
	s.Contains(s.rec.names(), models.EventKlaro)
}

// TestSecondInitialIsInert verifies initialConsents after confirmation has no
// effect.
func (s *WatcherSuite) TestSecondInitialIsInert() {
	s.watcher.Attach(s.manager)
	s.manager.Save()
	s.manager.Notify(models.NotificationInitialConsents, nil)
	s.Len(s.rec.updates, 1)
}

// TestIntermediateSuppressedByDefault verifies notifications other than
// initialConsents and saveConsents neither run updates nor reach the log.
func (s *WatcherSuite) TestIntermediateSuppressedByDefault() {
	s.watcher.Attach(s.manager)
	s.manager.UpdateConsent("svc-a", true)
	s.manager.UpdateConsent("svc-b", true)
	s.manager.Notify(models.NotificationApplyConsents, nil)

	s.Empty(s.rec.updates)
	s.Empty(s.rec.events)
}

func (s *WatcherSuite) TestIntermediateForwardedWhenNotSuppressed() {
	w := s.newWatcher(WithSuppressIntermediate(false))
	w.Attach(s.manager)
	s.manager.UpdateConsent("svc-a", true)

	s.Empty(s.rec.updates)
	s.Require().Len(s.rec.events, 1)
	s.Equal(models.NotificationConsents, s.rec.events[0][models.KeyKlaroEventName])
}

func (s *WatcherSuite) TestForwardedListIsConfigurable() {
	w := s.newWatcher(WithForwarded([]string{models.NotificationApplyConsents}))
	w.Attach(s.manager)
	s.manager.Save()

	s.Len(s.rec.updates, 1)
	s.Equal([]string{models.EventKlaro}, s.rec.names())
	s.Equal(models.NotificationApplyConsents, s.rec.events[0][models.KeyKlaroEventName])
}

// TestDuplicateWithinWindowIgnored verifies a modal save followed by the
// manager's own save for the same choice is handled once.
func (s *WatcherSuite) TestDuplicateWithinWindowIgnored() {
	s.watcher.Attach(s.manager)
	s.manager.Consents()["svc-a"] = true

	s.watcher.NotifyModalSave()
	s.sched.Advance(time.Second)
	s.manager.Save()

	s.Len(s.rec.updates, 1)
	s.Len(s.rec.receipts, 1)
}

func (s *WatcherSuite) TestDuplicateAfterWindowHandled() {
	s.watcher.Attach(s.manager)
	s.manager.Save()
	s.sched.Advance(DefaultDuplicateWindow)
	s.manager.Save()

	s.Len(s.rec.receipts, 2)
}

func (s *WatcherSuite) TestChangedStateInsideWindowHandled() {
	s.watcher.Attach(s.manager)
	s.manager.Save()
	s.manager.Consents()["svc-a"] = true
	s.manager.Save()

	s.Len(s.rec.receipts, 2)
}

func TestWithoutManagerUsesPayload(t *testing.T) {
	sched := loop.NewVirtual(time.Unix(0, 0))
	rec := &recorder{}
	w := New(sched, manager.NewSource(nil), rec, rec)

	w.Update(models.NotificationSaveConsents, map[string]any{
		"consents": map[string]bool{"svc-a": true},
	})
	assert.Equal(t, models.State{"svc-a": true}, rec.updates[0].state)
}

func TestStateFromPayload(t *testing.T) {
	assert.Equal(t, models.State{"a": true, "b": false}, stateFromPayload(map[string]any{"a": true, "b": "yes"}))
	assert.Equal(t, models.State{"a": true}, stateFromPayload(models.State{"a": true}))
	assert.Equal(t, models.State{}, stateFromPayload(42))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "unconfirmed", Unconfirmed.String())
	assert.Equal(t, "confirmed", Confirmed.String())
}
