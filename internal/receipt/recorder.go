// Package receipt records consent receipts locally and delivers them to the
// remote receipt endpoint.
package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	consentmodels "klarogeo/internal/consent/models"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/receipt/models"
)

// Sender delivers a receipt remotely.
type Sender interface {
	Send(ctx context.Context, r models.Receipt) models.Result
}

// Metrics receives recorder observations; nil disables reporting.
type Metrics interface {
	IncReceipt(outcome string)
}

// Recorder builds receipts, keeps them in the local buffer and, when logging
// is enabled, posts them in the background.
type Recorder struct {
	buffer  *Buffer
	sender  Sender
	info    models.Context
	enabled func() bool
	now     func() time.Time
	timeout time.Duration

	logger   *slog.Logger
	metrics  Metrics
	onResult func(models.Receipt, models.Result)

	wg sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSender enables remote delivery.
func WithSender(s Sender) Option {
	return func(r *Recorder) {
		r.sender = s
	}
}

// WithContext sets the deployment information stamped on receipts.
func WithContext(info models.Context) Option {
	return func(r *Recorder) {
		r.info = info
	}
}

// WithLoggingFlag sets the function deciding whether to deliver remotely.
func WithLoggingFlag(enabled func() bool) Option {
	return func(r *Recorder) {
		r.enabled = enabled
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithResultHook is called with every delivery result, from the delivery
// goroutine.
func WithResultHook(fn func(models.Receipt, models.Result)) Option {
	return func(r *Recorder) {
		r.onResult = fn
	}
}

// WithLogger sets the logger for storage and delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithMetrics counts receipts by outcome.
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a Recorder writing into buffer.
func NewRecorder(buffer *Buffer, opts ...Option) *Recorder {
	r := &Recorder{
		buffer:  buffer,
		enabled: func() bool { return true },
		now:     time.Now,
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Discard()
	}
	return r
}

// Record snapshots state into a new receipt, stores it locally and starts
// remote delivery without waiting for it. Storage failures are logged.
func (r *Recorder) Record(state consentmodels.State) models.Receipt {
	now := r.now()
	choices := make(map[string]bool, len(state))
	for k, v := range state {
		choices[k] = v
	}

	receipt := models.Receipt{
		ReceiptID:        NewID(now),
		Timestamp:        now.Unix(),
		ConsentChoices:   choices,
		TemplateName:     r.info.TemplateName,
		TemplateSource:   r.info.TemplateSource,
		CountryCode:      r.info.CountryCode,
		RegionCode:       r.info.RegionCode,
		AdminOverride:    r.info.AdminOverride,
		TemplateSettings: r.info.TemplateSettings,
		KlaroConfig:      r.info.KlaroConfig,
	}.Clone()

	ctx := context.Background()
	if err := r.buffer.Append(ctx, receipt); err != nil {
		r.logger.Warn("failed to store consent receipt locally", "receipt_id", receipt.ReceiptID, "error", err)
		r.observe("store_failed")
	} else {
		r.observe("stored")
	}

	if r.sender == nil || !r.enabled() {
		r.logger.Debug("consent receipt logging disabled", "receipt_id", receipt.ReceiptID)
		return receipt
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.deliver(receipt)
	}()
	return receipt
}

// Wait blocks until in-flight deliveries finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Stored returns the receipts in the local buffer.
func (r *Recorder) Stored(ctx context.Context) []models.Receipt {
	return r.buffer.List(ctx)
}

func (r *Recorder) deliver(receipt models.Receipt) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res := r.sender.Send(ctx, receipt)
	if res.Success {
		r.logger.Debug("consent receipt delivered", "receipt_id", receipt.ReceiptID)
		r.observe("sent")
	} else {
		r.logger.Warn("consent receipt delivery failed", "receipt_id", receipt.ReceiptID, "error", res.Error)
		r.observe("send_failed")
	}
	if r.onResult != nil {
		r.onResult(receipt, res)
	}
}

func (r *Recorder) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.IncReceipt(outcome)
	}
}

// NewID returns a receipt id made of the timestamp and a random suffix.
func NewID(now time.Time) string {
	return fmt.Sprintf("receipt_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
