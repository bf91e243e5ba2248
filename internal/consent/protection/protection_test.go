package protection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/consent/manager"
	"klarogeo/internal/consent/models"
	"klarogeo/internal/platform/loop"
)

var purposes = map[string][]string{
	"google-analytics": {"analytics", "marketing"},
	"hotjar":           {"analytics"},
	"facebook-pixel":   {"marketing"},
	"youtube":          {"marketing", "media"},
}

type fixture struct {
	sched   *loop.Virtual
	manager *manager.Memory
	guard   *Guard
	fixed   []string
}

func setup(t *testing.T, state models.State) *fixture {
	t.Helper()
	f := &fixture{sched: loop.NewVirtual(time.Unix(0, 0))}
	f.manager = manager.NewMemory(f.sched)
	for k, v := range state {
		f.manager.Consents()[k] = v
	}
	widget := &manager.StaticWidget{}
	widget.Install(f.manager)
	f.guard = New(f.sched, manager.NewSource(widget), purposes,
		WithCorrectionHook(func(s string) { f.fixed = append(f.fixed, s) }),
	)
	return f
}

// toggle reports the toggle to the guard, then switches the purpose's
// services the way the widget does.
func (f *fixture) toggle(purpose string, enabled bool) {
	f.guard.PurposeToggled(purpose, enabled)
	for service, ps := range purposes {
		for _, p := range ps {
			if p == purpose {
				f.manager.Consents()[service] = enabled
			}
		}
	}
}

// TestRestoresServiceWithEnabledPurpose verifies switching analytics off keeps
// a service that is still wanted for marketing.
func TestRestoresServiceWithEnabledPurpose(t *testing.T) {
	f := setup(t, models.State{
		"google-analytics": true,
		"hotjar":           true,
		"facebook-pixel":   true,
	})

	f.toggle("analytics", false)
	assert.False(t, f.manager.Consents()["google-analytics"])

	f.sched.RunPending()
	assert.True(t, f.manager.Consents()["google-analytics"])
	assert.False(t, f.manager.Consents()["hotjar"])
	assert.Equal(t, []string{"google-analytics"}, f.fixed)
}

// TestKeepsServiceDeniedBeforeToggle verifies the guard only undoes what the
// toggle switched off.
func TestKeepsServiceDeniedBeforeToggle(t *testing.T) {
	f := setup(t, models.State{
		"google-analytics": false,
		"hotjar":           true,
		"facebook-pixel":   true,
	})

	f.toggle("analytics", false)
	f.sched.RunPending()
	assert.False(t, f.manager.Consents()["google-analytics"])
	assert.Empty(t, f.fixed)
}

// TestIgnoresServiceOutsideToggledPurpose verifies a denied service that does
// not belong to the toggled purpose is never granted.
func TestIgnoresServiceOutsideToggledPurpose(t *testing.T) {
	f := setup(t, models.State{
		"google-analytics": true,
		"hotjar":           true,
		"facebook-pixel":   true,
		"youtube":          false,
	})

	f.toggle("analytics", false)
	f.sched.RunPending()
	assert.False(t, f.manager.Consents()["youtube"])
	assert.Equal(t, []string{"google-analytics"}, f.fixed)
}

func TestLeavesServiceWhenAllPurposesOff(t *testing.T) {
	f := setup(t, models.State{
		"google-analytics": true,
		"facebook-pixel":   true,
	})
	f.toggle("marketing", false)
	f.toggle("analytics", false)
	f.sched.RunPending()
	assert.False(t, f.manager.Consents()["google-analytics"])
	assert.Empty(t, f.fixed)
}

// TestExplicitToggleWins verifies a recorded purpose toggle overrides what
// member services suggest.
func TestExplicitToggleWins(t *testing.T) {
	f := setup(t, models.State{"google-analytics": true, "facebook-pixel": false})
	f.guard.PurposeToggled("marketing", true)
	f.toggle("analytics", false)
	f.sched.RunPending()
	assert.True(t, f.manager.Consents()["google-analytics"])
}

func TestEnablingDoesNotReconcile(t *testing.T) {
	f := setup(t, nil)
	f.guard.PurposeToggled("analytics", true)
	assert.Equal(t, 0, f.sched.RunPending())
}

func TestReconcileWithoutManager(t *testing.T) {
	sched := loop.NewVirtual(time.Unix(0, 0))
	g := New(sched, manager.NewSource(nil), purposes)
	require.NotPanics(t, func() {
		g.PurposeToggled("analytics", false)
		sched.RunPending()
		assert.Nil(t, g.Reconcile("analytics"))
	})
}
