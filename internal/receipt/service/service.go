// Package service ingests consent receipts submitted by pages.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"klarogeo/internal/platform/config"
	"klarogeo/internal/platform/kafka/producer"
	"klarogeo/internal/platform/logger"
	"klarogeo/internal/receipt/device"
	"klarogeo/internal/receipt/models"
	"klarogeo/internal/sentinel"
	dErrors "klarogeo/pkg/domain-errors"
	"klarogeo/pkg/validation"
)

// Store defines the persistence interface for submitted receipts.
// Error Contract:
// - Save returns sentinel.ErrConflict when the receipt id exists
// - FindByID returns sentinel.ErrNotFound when no receipt exists
type Store interface {
	Save(ctx context.Context, stored *models.Stored) error
	FindByID(ctx context.Context, receiptID string) (*models.Stored, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Stored, error)
}

// Nonces issues and checks submission nonces.
type Nonces interface {
	Issue(action string) (string, time.Time, error)
	Verify(token, action string) error
}

// Metrics receives ingestion outcomes; nil disables reporting.
type Metrics interface {
	IncIngested(outcome string)
	IncNonceIssued()
}

// SubmitRequest is one form submission to the receipt endpoint.
type SubmitRequest struct {
	Action      string
	Nonce       string
	ReceiptData string
	UserAgent   string
}

// SubmitResult reports the stored receipt. Duplicate is set when the
// receipt id had already been stored; the earlier copy is returned.
type SubmitResult struct {
	Stored    *models.Stored
	Duplicate bool
}

// Nonce is an issued nonce with its expiry.
type Nonce struct {
	Action    string    `json:"action"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Option func(*Service)

// Service validates and persists receipts.
type Service struct {
	store   Store
	nonces  Nonces
	action  string
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time

	publisher producer.Publisher
	topic     string
}

// NewService creates a Service. A nil nonces disables nonce checks.
func NewService(store Store, nonces Nonces, opts ...Option) *Service {
	svc := &Service{
		store:     store,
		nonces:    nonces,
		action:    config.DefaultReceiptAction,
		now:       time.Now,
		publisher: producer.NoopProducer{},
		topic:     producer.ReceiptsTopic,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = logger.Discard()
	}
	return svc
}

// WithAction sets the form action receipts must be submitted under.
func WithAction(action string) Option {
	return func(s *Service) {
		if action != "" {
			s.action = action
		}
	}
}

// WithMetrics records submission outcomes.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger; nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithPublisher forwards every newly stored receipt to topic. An empty
// topic uses producer.ReceiptsTopic.
func WithPublisher(p producer.Publisher, topic string) Option {
	return func(s *Service) {
		s.publisher = p
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithClock replaces time.Now for received-at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Action returns the accepted form action.
func (s *Service) Action() string {
	return s.action
}

// Submit validates a submission and stores its receipt. Resubmitting a
// stored receipt id is not an error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Action != s.action {
		s.observe("rejected")
		return nil, dErrors.New(dErrors.CodeBadRequest, "unknown action")
	}
	if s.nonces != nil {
		if err := s.nonces.Verify(req.Nonce, req.Action); err != nil {
			s.observe("invalid_nonce")
			return nil, err
		}
	}
	if req.ReceiptData == "" {
		s.observe("rejected")
		return nil, dErrors.New(dErrors.CodeBadRequest, "receipt_data is required")
	}

	var receipt models.Receipt
	if err := json.Unmarshal([]byte(req.ReceiptData), &receipt); err != nil {
		s.observe("rejected")
		return nil, dErrors.New(dErrors.CodeBadRequest, "receipt_data is not valid JSON")
	}
	if err := validation.Validate(&receipt); err != nil {
		s.observe("rejected")
		return nil, err
	}

	stored := &models.Stored{
		Receipt:    receipt,
		ReceivedAt: s.now().UTC(),
		Client:     device.Parse(req.UserAgent),
	}
	err := s.store.Save(ctx, stored)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "consent receipt stored",
			"receipt_id", receipt.ReceiptID,
			"country_code", receipt.CountryCode,
			"client", device.DisplayName(stored.Client),
		)
		s.observe("stored")
		s.publish(ctx, stored)
		return &SubmitResult{Stored: stored}, nil
	case errors.Is(err, sentinel.ErrConflict):
		existing, findErr := s.store.FindByID(ctx, receipt.ReceiptID)
		if findErr != nil {
			s.observe("error")
			return nil, dErrors.FromSentinel(findErr, "failed to read existing receipt")
		}
		s.logger.DebugContext(ctx, "duplicate consent receipt", "receipt_id", receipt.ReceiptID)
		s.observe("duplicate")
		return &SubmitResult{Stored: existing, Duplicate: true}, nil
	default:
		s.observe("error")
		return nil, dErrors.FromSentinel(err, "failed to store receipt")
	}
}

// Get returns one stored receipt.
func (s *Service) Get(ctx context.Context, receiptID string) (*models.Stored, error) {
	if receiptID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "receipt id is required")
	}
	stored, err := s.store.FindByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "receipt not found")
		}
		return nil, dErrors.FromSentinel(err, "failed to read receipt")
	}
	return stored, nil
}

// List returns stored receipts newest first.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.Stored, error) {
	if filter.Limit < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "limit must not be negative")
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.FromSentinel(err, "failed to list receipts")
	}
	return out, nil
}

// IssueNonce returns a nonce for the accepted action.
func (s *Service) IssueNonce(_ context.Context) (*Nonce, error) {
	if s.nonces == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "nonces are not enabled")
	}
	token, expires, err := s.nonces.Issue(s.action)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncNonceIssued()
	}
	return &Nonce{Action: s.action, Nonce: token, ExpiresAt: expires}, nil
}

func (s *Service) publish(ctx context.Context, stored *models.Stored) {
	value, err := json.Marshal(stored)
	if err != nil {
		s.logger.WarnContext(ctx, "receipt not published", "receipt_id", stored.Receipt.ReceiptID, "error", err)
		return
	}
	err = s.publisher.ProduceAsync(&producer.Message{
		Topic: s.topic,
		Key:   []byte(stored.Receipt.ReceiptID),
		Value: value,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "receipt not published", "receipt_id", stored.Receipt.ReceiptID, "error", err)
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.IncIngested(outcome)
	}
}
