package store

import (
	"context"
	"sort"
	"sync"

	"klarogeo/internal/receipt/models"
	"klarogeo/internal/sentinel"
)

// InMemoryStore keeps receipts in memory for tests and single-node runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]*models.Stored
}

// New constructs an empty in-memory receipt store.
func New() *InMemoryStore {
	return &InMemoryStore{receipts: make(map[string]*models.Stored)}
}

func (s *InMemoryStore) Save(_ context.Context, stored *models.Stored) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := stored.Receipt.ReceiptID
	if _, ok := s.receipts[id]; ok {
		return sentinel.ErrConflict
	}
	s.receipts[id] = copyStored(stored)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, receiptID string) (*models.Stored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.receipts[receiptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyStored(stored), nil
}

// List returns receipts newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.Stored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Stored
	for _, stored := range s.receipts {
		if filter.CountryCode != "" && stored.Receipt.CountryCode != filter.CountryCode {
			continue
		}
		out = append(out, copyStored(stored))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].Receipt.ReceiptID > out[j].Receipt.ReceiptID
	})
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyStored(s *models.Stored) *models.Stored {
	c := *s
	c.Receipt = s.Receipt.Clone()
	return &c
}
