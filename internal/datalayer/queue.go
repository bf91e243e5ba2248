package datalayer

import (
	"log/slog"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/platform/logger"
)

// DefaultCapacity bounds the number of events held before consent is confirmed.
const DefaultCapacity = 100

// QueueMetrics receives queue observations. Implemented by the pipeline
// metrics; nil disables reporting.
type QueueMetrics interface {
	SetBuffered(n int)
	IncEvicted()
	ObserveFlush(n int)
}

// Queue buffers events until the first authoritative consent signal reaches
// the log, then releases them in arrival order exactly once. After that it is
// a pass-through. Queue methods must be called from the pipeline scheduler.
type Queue struct {
	log       *Log
	buffer    []Event
	confirmed bool
	capacity  int
	trigger   string
	logger    *slog.Logger
	metrics   QueueMetrics
	release   func()
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithCapacity overrides DefaultCapacity. Non-positive values are ignored.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithLogger sets the logger used for eviction warnings and flush reports.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m QueueMetrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithTrigger overrides the event name that confirms consent.
func WithTrigger(name string) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.trigger = name
		}
	}
}

// NewQueue creates a queue in front of log and starts intercepting writes to
// it. Events already sitting in placeholder are absorbed in order, and later
// pushes into the placeholder are routed to the queue.
func NewQueue(log *Log, placeholder *Placeholder, opts ...QueueOption) *Queue {
	q := &Queue{
		log:      log,
		capacity: DefaultCapacity,
		trigger:  models.EventConsentUpdate,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Discard()
	}

	q.release = log.Intercept(q.intercept)

	if placeholder != nil {
		placeholder.bind(q)
	}
	return q
}

// Push enqueues e. Before confirmation, the canonical consent update passes
// straight to the log, which in turn confirms the queue; every other event is
// buffered.
func (q *Queue) Push(e Event) {
	if e == nil {
		return
	}
	if q.confirmed || e.Name() == q.trigger {
		q.log.Append(e)
		return
	}

	if len(q.buffer) >= q.capacity {
		evicted := q.buffer[0]
		q.buffer[0] = nil
		q.buffer = q.buffer[1:]
		q.logger.Warn("consent queue full, dropping oldest event",
			"evicted_event", evicted.Name(),
			"capacity", q.capacity,
		)
		if q.metrics != nil {
			q.metrics.IncEvicted()
		}
	}
	q.buffer = append(q.buffer, e)
	q.logger.Debug("event queued until consent is confirmed",
		"event", e.Name(),
		"buffered", len(q.buffer),
	)
	if q.metrics != nil {
		q.metrics.SetBuffered(len(q.buffer))
	}
}

// Assign merges events into the queue as new pushes. A wholesale replacement
// of the queue from outside is treated as "more events", never as a
// replacement of the buffer itself.
func (q *Queue) Assign(events []Event) {
	for _, e := range events {
		q.Push(e)
	}
}

// MarkConfirmedAndFlush confirms consent and drains the buffer into the log in
// FIFO order, followed by one EventQueueFlushed marker carrying the count.
// Subsequent calls are no-ops and return 0.
func (q *Queue) MarkConfirmedAndFlush() int {
	if q.confirmed {
		return 0
	}
	q.confirmed = true

	buffered := q.buffer
	q.buffer = nil
	for _, e := range buffered {
		q.log.Append(e)
	}
	q.log.Append(NewEvent(models.EventQueueFlushed, map[string]any{
		models.KeyEventsFlushed: len(buffered),
	}))

	q.logger.Info("consent confirmed, event queue flushed", "events_flushed", len(buffered))
	if q.metrics != nil {
		q.metrics.ObserveFlush(len(buffered))
		q.metrics.SetBuffered(0)
	}
	return len(buffered)
}

// Confirmed reports whether the queue has flushed.
func (q *Queue) Confirmed() bool {
	return q.confirmed
}

// Last returns the most recently buffered event matching fn.
func (q *Queue) Last(fn func(Event) bool) (Event, bool) {
	for i := len(q.buffer) - 1; i >= 0; i-- {
		if fn(q.buffer[i]) {
			return q.buffer[i], true
		}
	}
	return nil, false
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.buffer)
}

// Close stops intercepting the log.
func (q *Queue) Close() {
	if q.release != nil {
		q.release()
		q.release = nil
	}
}

func (q *Queue) intercept(e Event) {
	if !q.confirmed && e.Name() == q.trigger {
		q.MarkConfirmedAndFlush()
	}
}
