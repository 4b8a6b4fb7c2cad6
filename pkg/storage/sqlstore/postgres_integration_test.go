//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storetest"
)

// setupPostgres starts a PostgreSQL container and returns its connection string
func setupPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStoreSuite(t *testing.T) {
	connStr := setupPostgres(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(ctx, Config{Driver: "postgres", DSN: connStr, MaxOpenConns: 20})
		require.NoError(t, err)

		// Each subtest starts from empty tables.
		_, err = s.DB().ExecContext(ctx, `TRUNCATE plans, permissions, plan_permissions, subscriptions, usage_audit, payment_audit RESTART IDENTITY CASCADE`)
		require.NoError(t, err)

		t.Cleanup(func() { s.Close() })
		return s
	})
}
