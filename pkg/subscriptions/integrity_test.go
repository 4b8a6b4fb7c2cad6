package subscriptions

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

type danglingStore struct {
	storage.SubscriptionStore
	dangling []*domain.Subscription
	err      error
}

func (s *danglingStore) ListDanglingSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	return s.dangling, s.err
}

func TestSweepReportsDangling(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := &danglingStore{dangling: []*domain.Subscription{
		{ID: 4, UserID: 9, PlanID: 77, IsActive: true},
		{ID: 5, UserID: 10, PlanID: 77},
	}}
	sweeper := NewIntegritySweeper(store, observability.NewLogger("info", "json", &buf), metrics)

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DanglingSubscriptions))
	assert.Contains(t, buf.String(), `"plan_id":77`)
	assert.Contains(t, buf.String(), `"level":"error"`)

	store.dangling = nil
	n, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.DanglingSubscriptions))
}

func TestSweepStoreError(t *testing.T) {
	var buf bytes.Buffer
	store := &danglingStore{err: errors.New("connection reset")}
	sweeper := NewIntegritySweeper(store, observability.NewLogger("info", "json", &buf), nil)

	_, err := sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestScheduleRegistersJob(t *testing.T) {
	var buf bytes.Buffer
	store := &danglingStore{dangling: []*domain.Subscription{{ID: 1, UserID: 1, PlanID: 2}}}
	sweeper := NewIntegritySweeper(store, observability.NewLogger("info", "json", &buf), nil)

	c := cron.New()
	id, err := sweeper.Schedule(c, "@every 15m")
	require.NoError(t, err)

	entry := c.Entry(id)
	require.True(t, entry.Valid())
	entry.Job.Run()
	assert.Contains(t, buf.String(), "Subscription references a missing plan")

	_, err = sweeper.Schedule(c, "not a schedule")
	assert.Error(t, err)
}
