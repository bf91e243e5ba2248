// Package replay drives the consent pipeline from a scripted sequence of
// widget and manager actions, on a virtual clock or on the real-time event
// loop.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"klarogeo/internal/consent/manager"
	"klarogeo/internal/consent/models"
	"klarogeo/internal/consent/pipeline"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/config"
	"klarogeo/internal/platform/loop"
	receiptmodels "klarogeo/internal/receipt/models"
	"klarogeo/internal/receipt/slot"
	"klarogeo/pkg/validation"
)

// Script is a replay input file.
type Script struct {
	Config config.Consent `yaml:"config"`
	// Early events are pushed before the pipeline exists.
	Early []datalayer.Event `yaml:"early_events"`
	Steps []Step            `yaml:"steps" validate:"required,dive"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Install   bool            `yaml:"install"`
	Hydrate   models.State    `yaml:"hydrate"`
	Set       map[string]bool `yaml:"set"`
	Save      bool            `yaml:"save"`
	ModalSave bool            `yaml:"modal_save"`
	Notify    *Notify         `yaml:"notify"`
	Toggle    *Toggle         `yaml:"toggle_purpose"`
	Push      datalayer.Event `yaml:"push"`
	Advance   time.Duration   `yaml:"advance" validate:"gte=0"`
	Show      bool            `yaml:"show"`
}

// Notify sends a raw manager notification.
type Notify struct {
	Name string `yaml:"name" validate:"required"`
	Data any    `yaml:"data"`
}

// Toggle reports a purpose toggle in the modal.
type Toggle struct {
	Purpose string `yaml:"purpose" validate:"required"`
	Enabled bool   `yaml:"enabled"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Install, s.Hydrate != nil, s.Set != nil, s.Save, s.ModalSave,
		s.Notify != nil, s.Toggle != nil, s.Push != nil, s.Advance > 0, s.Show,
	} {
		if set {
			n++
		}
	}
	return n
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a script.
func Parse(raw []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse replay script: %w", err)
	}
	if err := validation.Validate(&s); err != nil {
		return nil, err
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return nil, fmt.Errorf("step %d: expected exactly one action, got %d", i+1, n)
		}
	}
	return &s, nil
}

// Result is what a replay produced.
type Result struct {
	Log       []datalayer.Event       `json:"log"`
	Receipts  []receiptmodels.Receipt `json:"receipts"`
	Confirmed bool                    `json:"confirmed"`
	Buffered  int                     `json:"buffered"`
	ModalOpen int                     `json:"modal_opened"`
}

// Options carry the optional collaborators of a replay.
type Options struct {
	Start time.Time
	// Realtime runs the script on the production event loop: advance steps
	// sleep for real and debounce and polling timers use the wall clock.
	// Start is ignored.
	Realtime bool
	// Attach is called with the event log before the pipeline is built,
	// e.g. to forward appends to Kafka. The returned func detaches.
	Attach func(*datalayer.Log) func()
	Slot   slot.Slot
	Logger *slog.Logger
}

// driver runs script actions on a scheduler and lets time pass.
type driver interface {
	// do runs fn on the scheduler and returns once the tasks it posted
	// have run.
	do(ctx context.Context, fn func()) error
	advance(ctx context.Context, d time.Duration) error
}

type virtualDriver struct {
	sched *loop.Virtual
}

func (v virtualDriver) do(_ context.Context, fn func()) error {
	fn()
	v.sched.RunPending()
	return nil
}

func (v virtualDriver) advance(_ context.Context, d time.Duration) error {
	v.sched.Advance(d)
	v.sched.RunPending()
	return nil
}

type realtimeDriver struct {
	loop *loop.EventLoop
}

func (r realtimeDriver) do(ctx context.Context, fn func()) error {
	if err := r.loop.Call(ctx, fn); err != nil {
		return err
	}
	return r.loop.Drain(ctx)
}

func (r realtimeDriver) advance(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return r.loop.Drain(ctx)
}

// Run executes script against a fresh pipeline.
func Run(ctx context.Context, script *Script, opts Options) (*Result, error) {
	var (
		sched loop.Scheduler
		drv   driver
	)
	if opts.Realtime {
		el := loop.New()
		loopCtx, stop := context.WithCancel(ctx)
		var g errgroup.Group
		g.Go(func() error { return el.Run(loopCtx) })
		defer func() {
			stop()
			_ = g.Wait()
		}()
		sched, drv = el, realtimeDriver{loop: el}
	} else {
		start := opts.Start
		if start.IsZero() {
			start = time.Unix(0, 0).UTC()
		}
		v := loop.NewVirtual(start)
		sched, drv = v, virtualDriver{sched: v}
	}

	log := datalayer.NewLog()
	if opts.Attach != nil {
		detach := opts.Attach(log)
		defer detach()
	}

	placeholder := datalayer.NewPlaceholder()
	for _, e := range script.Early {
		placeholder.Push(e)
	}

	mgr := manager.NewMemory(sched)
	widget := &manager.StaticWidget{}
	purposes := script.Config.Purposes()

	var p *pipeline.Pipeline
	err := drv.do(ctx, func() {
		p = pipeline.New(script.Config, pipeline.Deps{
			Sched:       sched,
			Log:         log,
			Placeholder: placeholder,
			Widget:      widget,
			Slot:        opts.Slot,
			Logger:      opts.Logger,
		})
		p.Start()
	})
	if err != nil {
		return nil, err
	}

	for _, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step.Advance > 0 {
			err = drv.advance(ctx, step.Advance)
		} else {
			err = drv.do(ctx, func() { apply(step, p, mgr, widget, purposes) })
		}
		if err != nil {
			return nil, err
		}
	}
	res := &Result{}
	err = drv.do(ctx, func() {
		p.Close()
		res.Log = log.Entries()
		res.Receipts = p.Recorder.Stored(ctx)
		res.Confirmed = p.Queue.Confirmed()
		res.Buffered = p.Queue.Len()
		res.ModalOpen = widget.Shown()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func apply(step Step, p *pipeline.Pipeline, mgr *manager.Memory, widget *manager.StaticWidget, purposes map[string][]string) {
	switch {
	case step.Install:
		widget.Install(mgr)
	case step.Hydrate != nil:
		mgr.Hydrate(step.Hydrate)
	case step.Set != nil:
		services := make([]string, 0, len(step.Set))
		for svc := range step.Set {
			services = append(services, svc)
		}
		slices.Sort(services)
		for _, svc := range services {
			manager.SetConsent(mgr, svc, step.Set[svc])
		}
	case step.Save:
		mgr.Save()
	case step.ModalSave:
		p.NotifyModalSave()
	case step.Notify != nil:
		mgr.Notify(step.Notify.Name, step.Notify.Data)
	case step.Toggle != nil:
		p.PurposeToggled(step.Toggle.Purpose, step.Toggle.Enabled)
		// the widget then switches every service of the purpose
		var members []string
		for svc, ps := range purposes {
			if slices.Contains(ps, step.Toggle.Purpose) {
				members = append(members, svc)
			}
		}
		slices.Sort(members)
		for _, svc := range members {
			manager.SetConsent(mgr, svc, step.Toggle.Enabled)
		}
	case step.Push != nil:
		p.Push(step.Push)
	case step.Show:
		p.ShowModal()
	}
}
