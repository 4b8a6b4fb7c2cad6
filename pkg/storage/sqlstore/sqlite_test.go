package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "gatekeeper.db")
	s, err := Open(context.Background(), Config{Driver: "sqlite3", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return openSQLite(t) })
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_DanglingPlan(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	plan := &domain.Plan{Name: "basic", UsageLimit: 3}
	require.NoError(t, s.CreatePlan(ctx, plan))
	sub, err := s.CreateSubscription(ctx, 1, plan.ID)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, plan.ID)
	require.NoError(t, err)

	dangling, err := s.ListDanglingSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, sub.ID, dangling[0].ID)

	err = s.WithActiveSubscription(ctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		_, err := tx.Plan(ctx)
		return err
	})
	var pnf *domain.PlanNotFoundError
	require.True(t, errors.As(err, &pnf), "got %v", err)
	assert.True(t, pnf.Dangling())
	assert.True(t, errors.Is(err, domain.ErrIntegrityFault))
}

func TestSQLite_CanceledContextRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	plan := &domain.Plan{Name: "basic", UsageLimit: 3}
	require.NoError(t, s.CreatePlan(ctx, plan))
	sub, err := s.CreateSubscription(ctx, 1, plan.ID)
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	err = s.WithActiveSubscription(cctx, 1, func(ctx context.Context, tx storage.QuotaTx) error {
		if _, err := tx.IncrementUsage(ctx, plan.UsageLimit); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.Error(t, err)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"file:a.db", "file:a.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"},
		{"file:a.db?mode=rwc", "file:a.db?mode=rwc&_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"},
		{"file:a.db?_busy_timeout=100", "file:a.db?_busy_timeout=100&_txlock=immediate&_foreign_keys=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.in))
	}
}

func TestDialect_Rebind(t *testing.T) {
	query := `SELECT a FROM t WHERE x = $1 AND y = $2 OR z = $10`
	assert.Equal(t, query, Postgres.Rebind(query))
	assert.Equal(t, `SELECT a FROM t WHERE x = ?1 AND y = ?2 OR z = ?10`, SQLite.Rebind(query))
}

func TestDialectFor(t *testing.T) {
	d, ok := DialectFor("postgresql")
	require.True(t, ok)
	assert.Equal(t, "postgres", d.Name)

	d, ok = DialectFor("sqlite")
	require.True(t, ok)
	assert.Equal(t, "sqlite3", d.Name)

	_, ok = DialectFor("mysql")
	assert.False(t, ok)

	_, err := Open(context.Background(), Config{Driver: "mysql"})
	assert.Error(t, err)
}
