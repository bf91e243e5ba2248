package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"klarogeo/internal/receipt/models"
	"klarogeo/internal/sentinel"
)

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed receipt store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed receipt store bound to a transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const receiptColumns = `receipt_id, receipt_timestamp, consent_choices, template_name, template_source,
	country_code, region_code, admin_override, template_settings, klaro_config,
	browser, browser_version, os, mobile, bot, received_at`

func (s *PostgresStore) Save(ctx context.Context, stored *models.Stored) error {
	if stored == nil {
		return fmt.Errorf("receipt is required")
	}
	r := stored.Receipt
	choices, err := json.Marshal(r.ConsentChoices)
	if err != nil {
		return fmt.Errorf("encode consent choices: %w", err)
	}
	settings, err := nullableJSON(r.TemplateSettings)
	if err != nil {
		return fmt.Errorf("encode template settings: %w", err)
	}
	klaroConfig, err := nullableJSON(r.KlaroConfig)
	if err != nil {
		return fmt.Errorf("encode klaro config: %w", err)
	}

	query := `
		INSERT INTO consent_receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (receipt_id) DO NOTHING
		RETURNING receipt_id
	`
	var storedID string
	err = s.execer().QueryRowContext(ctx, query,
		r.ReceiptID,
		r.Timestamp,
		string(choices),
		r.TemplateName,
		r.TemplateSource,
		r.CountryCode,
		r.RegionCode,
		r.AdminOverride,
		settings,
		klaroConfig,
		stored.Client.Browser,
		stored.Client.BrowserVersion,
		stored.Client.OS,
		stored.Client.Mobile,
		stored.Client.Bot,
		stored.ReceivedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, receiptID string) (*models.Stored, error) {
	query := `SELECT ` + receiptColumns + ` FROM consent_receipts WHERE receipt_id = $1`
	stored, err := scanReceipt(s.execer().QueryRowContext(ctx, query, receiptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find receipt: %w", err)
	}
	return stored, nil
}

// List returns receipts newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Stored, error) {
	query := `SELECT ` + receiptColumns + ` FROM consent_receipts`
	var args []any
	if filter.CountryCode != "" {
		query += " WHERE country_code = $1"
		args = append(args, filter.CountryCode)
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY received_at DESC, receipt_id DESC LIMIT $%d", len(args))

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []*models.Stored
	for rows.Next() {
		stored, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

type receiptRow interface {
	Scan(dest ...any) error
}

func scanReceipt(row receiptRow) (*models.Stored, error) {
	var stored models.Stored
	var choices []byte
	var settings, klaroConfig []byte
	r := &stored.Receipt
	c := &stored.Client
	if err := row.Scan(
		&r.ReceiptID, &r.Timestamp, &choices, &r.TemplateName, &r.TemplateSource,
		&r.CountryCode, &r.RegionCode, &r.AdminOverride, &settings, &klaroConfig,
		&c.Browser, &c.BrowserVersion, &c.OS, &c.Mobile, &c.Bot, &stored.ReceivedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(choices, &r.ConsentChoices); err != nil {
		return nil, fmt.Errorf("decode consent choices: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &r.TemplateSettings); err != nil {
			return nil, fmt.Errorf("decode template settings: %w", err)
		}
	}
	if len(klaroConfig) > 0 {
		if err := json.Unmarshal(klaroConfig, &r.KlaroConfig); err != nil {
			return nil, fmt.Errorf("decode klaro config: %w", err)
		}
	}
	return &stored, nil
}

func nullableJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
