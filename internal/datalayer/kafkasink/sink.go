// Package kafkasink forwards every event-log append to Kafka, standing in for
// the tag-management runtime that drains the page's event log.
package kafkasink

import (
	"encoding/json"
	"log/slog"

	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/kafka/producer"
	"klarogeo/internal/platform/logger"
)

// Sink publishes log events as JSON records keyed by event name.
type Sink struct {
	publisher producer.Publisher
	topic     string
	session   string
	logger    *slog.Logger
}

// New creates a sink. An empty topic uses producer.DefaultTopic.
func New(publisher producer.Publisher, topic, session string, log *slog.Logger) *Sink {
	if topic == "" {
		topic = producer.DefaultTopic
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Sink{publisher: publisher, topic: topic, session: session, logger: log}
}

// Attach starts forwarding appends of l and returns the detach function.
func (s *Sink) Attach(l *datalayer.Log) func() {
	return l.Intercept(s.forward)
}

func (s *Sink) forward(e datalayer.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("event not forwarded: payload is not JSON encodable",
			"event", e.Name(),
			"error", err,
		)
		return
	}
	msg := &producer.Message{
		Topic: s.topic,
		Key:   []byte(e.Name()),
		Value: value,
	}
	if s.session != "" {
		msg.Headers = map[string]string{"session": s.session}
	}
	if err := s.publisher.ProduceAsync(msg); err != nil {
		s.logger.Warn("event not forwarded", "event", e.Name(), "error", err)
	}
}
