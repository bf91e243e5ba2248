package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	platformlogger "klarogeo/internal/platform/logger"
	"klarogeo/internal/receipt/models"
	"klarogeo/internal/receipt/slot"
	"klarogeo/internal/sentinel"
)

// DefaultLimit is the local ring-buffer size.
const DefaultLimit = 10

// Buffer keeps the most recent receipts in one storage slot as a JSON array.
// Missing or corrupt slot contents read as an empty buffer.
type Buffer struct {
	slot   slot.Slot
	limit  int
	logger *slog.Logger
}

// NewBuffer creates a ring buffer of limit receipts over s.
func NewBuffer(s slot.Slot, limit int, logger *slog.Logger) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = platformlogger.Discard()
	}
	return &Buffer{slot: s, limit: limit, logger: logger}
}

// List returns the stored receipts, oldest first.
func (b *Buffer) List(ctx context.Context) []models.Receipt {
	receipts, err := b.load(ctx)
	if err != nil {
		b.logger.Warn("receipt storage unreadable, treating as empty", "error", err)
		return nil
	}
	return receipts
}

// Append adds r, dropping the oldest receipts beyond the limit, and writes
// the whole buffer back.
func (b *Buffer) Append(ctx context.Context, r models.Receipt) error {
	receipts := b.List(ctx)
	receipts = append(receipts, r)
	if over := len(receipts) - b.limit; over > 0 {
		receipts = receipts[over:]
	}

	raw, err := json.Marshal(receipts)
	if err != nil {
		return fmt.Errorf("encode receipts: %w", err)
	}
	if err := b.slot.Store(ctx, raw); err != nil {
		return fmt.Errorf("store receipts: %w", err)
	}
	return nil
}

func (b *Buffer) load(ctx context.Context) ([]models.Receipt, error) {
	raw, err := b.slot.Load(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var receipts []models.Receipt
	if err := json.Unmarshal(raw, &receipts); err != nil {
		return nil, errors.Join(sentinel.ErrCorrupt, err)
	}
	return receipts, nil
}
