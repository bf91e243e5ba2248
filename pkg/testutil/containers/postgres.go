//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"klarogeo/internal/platform/database"
	"klarogeo/migrations"
)

const postgresImage = "postgres:16-alpine"

// PostgresContainer is a migrated receipt database.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the receipt migrations
// through the same migrator the server runs at startup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("klarogeo_test"),
		postgres.WithUsername("klarogeo"),
		postgres.WithPassword("klarogeo_test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	// shared by the Manager singleton; Ryuk removes it when the process exits

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres connection string: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open postgres: %v", err)
	}
	if _, err := database.Migrate(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("migrate receipts schema: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateAll empties the receipt table between tests.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, `TRUNCATE TABLE consent_receipts`); err != nil {
		return fmt.Errorf("truncate consent_receipts: %w", err)
	}
	return nil
}

// CountReceipts returns the number of stored receipts.
func (p *PostgresContainer) CountReceipts(ctx context.Context) (int, error) {
	var n int
	err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM consent_receipts`).Scan(&n)
	return n, err
}
