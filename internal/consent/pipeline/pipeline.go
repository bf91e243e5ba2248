// Package pipeline assembles the consent pipeline: the event log and the
// queue in front of it, the manager watcher, the consent-mode updater,
// multi-purpose protection and the receipt recorder. One Pipeline is built per
// page session and handed to producers instead of ambient globals.
package pipeline

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"klarogeo/internal/consent/consentmode"
	"klarogeo/internal/consent/manager"
	"klarogeo/internal/consent/metrics"
	"klarogeo/internal/consent/models"
	"klarogeo/internal/consent/protection"
	"klarogeo/internal/consent/watcher"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/gtag"
	"klarogeo/internal/platform/config"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/platform/loop"
	"klarogeo/internal/receipt"
	receiptmodels "klarogeo/internal/receipt/models"
	"klarogeo/internal/receipt/slot"
)

// Deps are the collaborators a Pipeline runs against. Only Sched is
// required.
type Deps struct {
	Sched loop.Scheduler
	// Log is the downstream event log; a new one is created when nil.
	Log *datalayer.Log
	// Placeholder holds events pushed before the pipeline existed.
	Placeholder *datalayer.Placeholder
	Widget      manager.Widget
	// SignalAPI defaults to gtag commands written to Log.
	SignalAPI consentmode.SignalAPI
	// Slot holds local receipts; in-memory when nil.
	Slot slot.Slot
	// Sender delivers receipts; built from the receipts endpoint when nil.
	Sender receipt.Sender
	// Tracer traces receipt delivery by the built-in sender; the global
	// provider is used when nil.
	Tracer     trace.Tracer
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Pipeline is the per-session context object.
type Pipeline struct {
	Sched    loop.Scheduler
	Log      *datalayer.Log
	Queue    *datalayer.Queue
	Source   *manager.Source
	Updater  watcher.Updater
	Watcher  *watcher.Watcher
	Guard    *protection.Guard
	Recorder *receipt.Recorder
	Metrics  *metrics.Metrics

	cfg     config.Consent
	widget  manager.Widget
	logger  *slog.Logger
	started bool
}

// New wires a pipeline from cfg. Nothing observes the manager until Start.
func New(cfg config.Consent, deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = datalayer.NewLog()
	}
	l := deps.Logger
	if l == nil {
		l = logger.NewDebug(cfg.Debug)
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	p := &Pipeline{
		Sched:   deps.Sched,
		Log:     log,
		Metrics: m,
		cfg:     cfg,
		widget:  deps.Widget,
		logger:  l,
	}

	p.Queue = datalayer.NewQueue(log, deps.Placeholder,
		datalayer.WithCapacity(cfg.QueueCapacity),
		datalayer.WithLogger(l.With("component", "queue")),
		datalayer.WithMetrics(m),
	)
	p.Source = manager.NewSource(deps.Widget, manager.WithSourceLogger(l.With("component", "manager")))

	p.Updater = p.newUpdater(deps)
	p.Recorder = p.newRecorder(deps)

	p.Watcher = watcher.New(deps.Sched, p.Source, p.Queue, p.Updater,
		watcher.WithForwarded(cfg.Forwarded()),
		watcher.WithSuppressIntermediate(cfg.SuppressIntermediate()),
		watcher.WithDuplicateWindow(cfg.DuplicateWindow()),
		watcher.WithReceipts(func(state models.State) { p.Recorder.Record(state) }),
		watcher.WithLogger(l.With("component", "watcher")),
		watcher.WithMetrics(m),
	)
	p.Guard = protection.New(deps.Sched, p.Source, cfg.Purposes(),
		protection.WithLogger(l.With("component", "protection")),
	)
	return p
}

func (p *Pipeline) newUpdater(deps Deps) watcher.Updater {
	cmCfg := consentmode.Config{
		ServiceMap:  p.cfg.ConsentModeServices,
		ParentChild: p.cfg.ParentChild,
		Services:    p.cfg.Services,
	}
	if !cmCfg.Configured() {
		p.logger.Debug("consent mode not configured, consent notifications only release the queue")
		return &releaseOnly{queue: p.Queue}
	}

	api := deps.SignalAPI
	if api == nil {
		g := gtag.New(p.Log)
		if len(p.cfg.DefaultSignals) > 0 {
			g.DefaultConsent(p.cfg.DefaultSignals)
		}
		api = g
	}
	return consentmode.NewUpdater(p.Sched, cmCfg, p.Queue,
		consentmode.WithSignalAPI(api),
		consentmode.WithStateReader(p.Source.State),
		consentmode.WithDelay(p.cfg.Debounce()),
		consentmode.WithGTMGate(consentmode.GTMGate{
			Enabled:  p.cfg.GTMMode,
			Service:  p.cfg.GTMService,
			Advanced: p.cfg.AdvancedConsentMode,
		}),
		consentmode.WithLogger(p.logger.With("component", "consent_mode")),
		consentmode.WithMetrics(p.Metrics),
	)
}

func (p *Pipeline) newRecorder(deps Deps) *receipt.Recorder {
	rc := p.cfg.Receipts
	s := deps.Slot
	if s == nil {
		s = slot.NewMemory()
	}
	sender := deps.Sender
	if sender == nil && rc.Endpoint != "" {
		clientOpts := []receipt.ClientOption{receipt.WithNonce(rc.Nonce)}
		if deps.Tracer != nil {
			clientOpts = append(clientOpts, receipt.WithTracer(deps.Tracer))
		}
		sender = receipt.NewClient(rc.Endpoint, rc.FormAction(), clientOpts...)
	}

	rl := p.logger.With("component", "receipts")
	opts := []receipt.Option{
		receipt.WithContext(receiptmodels.Context{
			TemplateName:     rc.TemplateName,
			TemplateSource:   rc.TemplateSource,
			CountryCode:      rc.CountryCode,
			RegionCode:       rc.RegionCode,
			AdminOverride:    rc.AdminOverride,
			TemplateSettings: rc.TemplateSettings,
			KlaroConfig:      rc.KlaroConfig,
		}),
		receipt.WithLoggingFlag(func() bool { return receipt.LoggingEnabled(rc.EnableLogging, p.Queue, p.Log) }),
		receipt.WithClock(p.Sched.Now),
		receipt.WithLogger(rl),
		receipt.WithMetrics(p.Metrics),
	}
	if sender != nil {
		opts = append(opts, receipt.WithSender(sender))
	}
	return receipt.NewRecorder(receipt.NewBuffer(s, rc.Limit(), rl), opts...)
}

// Start waits for the consent manager and attaches the watcher to it. If
// the manager never appears the pipeline keeps buffering events without one.
// Start must be called from the scheduler; later calls are no-ops.
func (p *Pipeline) Start() {
	if p.started {
		return
	}
	p.started = true
	p.Source.Await(p.Sched, p.cfg.Retries(), func(m manager.Manager, ok bool) {
		if !ok {
			p.logger.Warn("running without a consent manager, events stay queued")
			return
		}
		p.Watcher.Attach(m)
	})
}

// Push is the producer entry point for events.
func (p *Pipeline) Push(e datalayer.Event) {
	p.Queue.Push(e)
}

// NotifyModalSave reports a click on the consent modal's save button.
func (p *Pipeline) NotifyModalSave() {
	p.Watcher.NotifyModalSave()
}

// PurposeToggled reports a purpose-level toggle in the consent modal.
func (p *Pipeline) PurposeToggled(purpose string, enabled bool) {
	p.Guard.PurposeToggled(purpose, enabled)
}

// ShowModal opens the consent widget's modal.
func (p *Pipeline) ShowModal() {
	if p.widget == nil {
		p.logger.Warn("no consent widget to show")
		return
	}
	p.widget.Show()
}

// Close stops intercepting the event log and waits for receipt deliveries.
func (p *Pipeline) Close() {
	p.Queue.Close()
	p.Recorder.Wait()
}

// releaseOnly stands in for the consent-mode updater when consent mode is
// off: the first authoritative notification still has to release the queue.
type releaseOnly struct {
	queue *datalayer.Queue
}

func (r *releaseOnly) Update(state models.State, trigger string) {
	if r.queue.Confirmed() {
		return
	}
	r.queue.Push(datalayer.NewEvent(models.EventConsentUpdate, map[string]any{
		models.KeyTrigger:         trigger,
		models.KeyGrantedServices: state.Granted(),
	}))
}
