package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/division-billing/internal/infrastructure/config"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
	"github.com/davidleathers/division-billing/internal/testutil/containers"
)

// TestDB is a migrated PostgreSQL database running in a container
type TestDB struct {
	URL  string
	Pool *pgxpool.Pool
	Tx   *database.TxManager
}

// tables in dependency order for truncation
var tables = []string{
	"invoice_items",
	"invoices",
	"invoice_number_sequences",
	"stored_events",
	"division_balances",
	"invoice_generation_batches",
	"module_activation_history",
	"financer_users",
	"financer_modules",
	"financers",
	"division_modules",
	"divisions",
}

// NewTestDB starts a container and applies every migration. Skipped under -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	logger := zaptest.NewLogger(t)
	migrator, err := database.NewMigrator(pg.ConnectionString, logger)
	require.NoError(t, err)
	require.NoError(t, migrator.Up(0))
	require.NoError(t, migrator.Close())

	cfg := config.Defaults().Database
	cfg.URL = pg.ConnectionString
	pool, err := database.Connect(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &TestDB{
		URL:  pg.ConnectionString,
		Pool: pool,
		Tx:   database.NewTxManager(pool, logger),
	}
}

// Truncate empties every billing table
func (db *TestDB) Truncate(t *testing.T) {
	t.Helper()
	for _, table := range tables {
		_, err := db.Pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err, table)
	}
}
