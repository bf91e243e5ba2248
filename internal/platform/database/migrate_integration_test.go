//go:build integration

package database_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/platform/database"
	"klarogeo/pkg/testutil/containers"
)

func TestMigrateIsIdempotent(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"900_scratch.up.sql":   {Data: []byte(`CREATE TABLE migrate_scratch (id INT)`)},
		"900_scratch.down.sql": {Data: []byte(`DROP TABLE migrate_scratch`)},
	}
	t.Cleanup(func() {
		_, _ = pg.DB.ExecContext(ctx, `DROP TABLE IF EXISTS migrate_scratch`)
		_, _ = pg.DB.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = '900_scratch'`)
	})

	applied, err := database.Migrate(ctx, pg.DB, fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"900_scratch"}, applied)

	applied, err = database.Migrate(ctx, pg.DB, fsys)
	require.NoError(t, err)
	assert.Empty(t, applied, "second run applies nothing")
}

func TestOpenPingsAndExportsStats(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	cfg := database.DefaultConfig()
	cfg.URL = pg.DSN
	pool, err := database.Open(ctx, cfg)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Health(ctx))

	reg := prometheus.NewRegistry()
	require.NoError(t, pool.RegisterMetrics(reg))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	_, err = database.Open(ctx, database.Config{})
	assert.Error(t, err)
}
