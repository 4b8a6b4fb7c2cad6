package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/gate"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/proxy"
	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
	"github.com/platinummonkey/gatekeeper/pkg/subscriptions"
)

// echoAdapter answers every call with the request it received.
type echoAdapter struct {
	id  string
	err error

	mu   sync.Mutex
	last proxy.Request
}

func (e *echoAdapter) ServiceID() string { return e.id }

func (e *echoAdapter) Info() proxy.ServiceInfo {
	return proxy.ServiceInfo{ID: e.id, Name: domain.ServiceName(e.id), Status: "active", Description: "echo"}
}

func (e *echoAdapter) Call(ctx context.Context, userID int64, req proxy.Request) (interface{}, error) {
	e.mu.Lock()
	e.last = req
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return map[string]interface{}{"params": req.Params, "size": len(req.Body)}, nil
}

type testEnv struct {
	server   *Server
	store    *memory.Store
	metrics  *observability.Metrics
	adapters map[string]*echoAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	catalog := plans.NewCatalog(store, plans.DefaultConfig(), logger, metrics)
	facade := proxy.NewFacade(0, logger, metrics)
	adapters := make(map[string]*echoAdapter)
	for _, id := range domain.ServiceIDs() {
		if id == domain.ServiceAuth {
			continue
		}
		a := &echoAdapter{id: id}
		adapters[id] = a
		facade.Register(a)
	}

	g := gate.New(store, catalog, logger, gate.WithMetrics(metrics), gate.WithInvoker(facade))
	server := NewServer(Deps{
		Catalog:       catalog,
		Subscriptions: subscriptions.NewService(store, logger),
		Gate:          g,
		Services:      facade,
		Recorder:      audit.NewRecorder(store, logger),
		Logger:        logger,
		Metrics:       metrics,
	})
	return &testEnv{server: server, store: store, metrics: metrics, adapters: adapters}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

// subscribe creates a plan with limit and subscribes userID to it.
func (e *testEnv) subscribe(t *testing.T, userID, limit int64) *domain.Subscription {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/plans", PlanRequest{Name: "plan-" + strings.Repeat("x", int(userID)), UsageLimit: limit})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))

	rec = e.do(t, http.MethodPost, "/api/subscriptions", SubscribeRequest{UserID: userID, PlanID: plan.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	return &sub
}

func (e *testEnv) usage(t *testing.T, subID int64) int64 {
	t.Helper()
	sub, err := e.store.GetSubscription(context.Background(), subID)
	require.NoError(t, err)
	return sub.UsageCount
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPlanEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/permissions", PermissionRequest{Name: "search", Endpoint: "/cloud-service-4/search"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var perm domain.Permission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perm))

	rec = env.do(t, http.MethodPost, "/api/plans", PlanRequest{Name: "basic", UsageLimit: 10, PermissionIDs: []int64{perm.ID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Permissions, 1)
	assert.Equal(t, "search", plan.Permissions[0].Name)

	rec = env.do(t, http.MethodPost, "/api/plans", PlanRequest{Name: "basic", UsageLimit: 5})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.KindDuplicateName), decodeBody(t, rec)["code"])

	rec = env.do(t, http.MethodPost, "/api/plans", PlanRequest{Name: "zero", UsageLimit: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/plans/"+itoa(plan.ID), PlanRequest{Name: "basic", UsageLimit: 20})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, int64(20), updated.UsageLimit)

	rec = env.do(t, http.MethodDelete, "/api/plans/"+itoa(plan.ID)+"/permissions/"+itoa(perm.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/plans/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/plans/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/plans", "2xx")))
}

func TestDeletePlanWithSubscribers(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 5)

	rec := env.do(t, http.MethodDelete, "/api/plans/"+itoa(sub.PlanID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.KindHasDependents), decodeBody(t, rec)["code"])

	rec = env.do(t, http.MethodDelete, "/api/plans/"+itoa(sub.PlanID)+"?force=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/subscriptions/user/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 5)

	rec := env.do(t, http.MethodPost, "/api/subscriptions", SubscribeRequest{UserID: 1, PlanID: sub.PlanID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.KindAlreadySubscribed), decodeBody(t, rec)["code"])

	rec = env.do(t, http.MethodPost, "/api/subscriptions", SubscribeRequest{UserID: 2, PlanID: 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/access/1/cloud-service-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), env.usage(t, sub.ID))

	rec = env.do(t, http.MethodPut, "/api/subscriptions/"+itoa(sub.ID)+"/plan", ChangePlanRequest{PlanID: sub.PlanID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.usage(t, sub.ID))

	rec = env.do(t, http.MethodDelete, "/api/subscriptions/"+itoa(sub.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/subscriptions/"+itoa(sub.ID)+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deactivated domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deactivated))
	assert.False(t, deactivated.IsActive)
	assert.NotNil(t, deactivated.EndDate)

	rec = env.do(t, http.MethodPost, "/api/access/1/cloud-service-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(domain.KindNoSubscription), decodeBody(t, rec)["code"])

	rec = env.do(t, http.MethodDelete, "/api/subscriptions/"+itoa(sub.ID)+"?force=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/subscriptions/"+itoa(sub.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessUntilQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 2)

	for _, remaining := range []float64{1, 0} {
		rec := env.do(t, http.MethodPost, "/api/access/1/cloud-service-4", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "granted", body["access"])
		assert.Equal(t, remaining, body["remaining_calls"])
	}

	rec := env.do(t, http.MethodPost, "/api/access/1/cloud-service-4", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(domain.KindQuotaExceeded), body["code"])
	assert.Equal(t, map[string]interface{}{"usage": 2.0, "limit": 2.0}, body["details"])
	assert.Equal(t, int64(2), env.usage(t, sub.ID))

	rec = env.do(t, http.MethodGet, "/api/usage/1/limit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status gate.LimitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.LimitExceeded)
	assert.Zero(t, status.Remaining)

	rec = env.do(t, http.MethodGet, "/api/usage/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary gate.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.RecentCalls, 3)
	assert.Equal(t, domain.OutcomeDenied, summary.RecentCalls[0].Outcome)

	rec = env.do(t, http.MethodPost, "/api/access/1/cloud-service-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(domain.KindUnknownService), decodeBody(t, rec)["code"])
}

func TestGatedServiceCalls(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 10)

	rec := env.do(t, http.MethodGet, "/api/cloud-service-4/search?user_id=1&query=golang", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ServiceSearch, resp["service"])
	assert.Equal(t, 9.0, resp["remaining_calls"])
	assert.Equal(t, "golang", env.adapters[domain.ServiceSearch].last.Params["query"])

	// rejected input is not charged
	rec = env.do(t, http.MethodGet, "/api/cloud-service-4/search?user_id=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/cloud-service-5/queue?user_id=1", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(1), env.usage(t, sub.ID))

	rec = env.do(t, http.MethodPost, "/api/cloud-service-5/queue?user_id=1", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", env.adapters[domain.ServiceMessaging].last.Params["message"])

	rec = env.do(t, http.MethodPost, "/api/cloud-service-6/cache?user_id=1", map[string]string{"key": "k", "value": "v", "ttl": "1m"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/cloud-service-6/cache/k?user_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "k", env.adapters[domain.ServiceCache].last.Params["key"])

	rec = env.do(t, http.MethodPost, "/api/cloud-service-1/payment?user_id=1", map[string]int64{"amount": 2500})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2500", env.adapters[domain.ServicePayments].last.Params["amount"])

	rec = env.do(t, http.MethodGet, "/api/services/cloud-service-3?user_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(6), env.usage(t, sub.ID))

	// missing user
	rec = env.do(t, http.MethodGet, "/api/cloud-service-4/search?query=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/cloud-service-4/search?user_id=abc&query=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/cloud-service-4/search?user_id=2&query=x", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnconfiguredServiceStillCharges(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 10)

	rec := env.do(t, http.MethodGet, "/api/cloud-service-2/auth?user_id=1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(domain.KindDownstreamFailure), decodeBody(t, rec)["code"])
	assert.Equal(t, int64(1), env.usage(t, sub.ID))

	rec = env.do(t, http.MethodGet, "/api/services/cloud-service-2?user_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp["data"].(map[string]interface{})["status"])
}

func TestDownstreamFailureIsNotRefunded(t *testing.T) {
	env := newTestEnv(t)
	sub := env.subscribe(t, 1, 10)
	env.adapters[domain.ServiceMessaging].err = errors.New("broker down")

	rec := env.do(t, http.MethodPost, "/api/cloud-service-5/queue?user_id=1", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, int64(1), env.usage(t, sub.ID))

	entries, err := env.store.ListUsage(context.Background(), domain.AuditFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OutcomeError, entries[0].Outcome)
	assert.Equal(t, domain.OutcomeSuccess, entries[1].Outcome)
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, 1, 10)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	part.Write([]byte("hello world"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/cloud-service-3/storage?user_id=1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	last := env.adapters[domain.ServiceStorage].last
	assert.Equal(t, "notes.txt", last.Filename)
	assert.Equal(t, "hello world", string(last.Body))

	req = httptest.NewRequest(http.MethodPost, "/api/cloud-service-3/storage?user_id=1", strings.NewReader("not multipart"))
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceListingAndLogs(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, 1, 10)

	rec := env.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Services []proxy.ServiceInfo `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Services, len(domain.ServiceIDs()))

	env.do(t, http.MethodPost, "/api/access/1/cloud-service-4", nil)
	env.do(t, http.MethodPost, "/api/access/1/cloud-service-6", nil)

	rec = env.do(t, http.MethodGet, "/api/services/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var all struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)

	rec = env.do(t, http.MethodGet, "/api/services/cloud-service-6/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 1, all.Count)

	rec = env.do(t, http.MethodGet, "/api/admin/logs/services/1?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestUserDirectory(t *testing.T) {
	env := newTestEnv(t)
	first := env.subscribe(t, 1, 5)
	second := env.subscribe(t, 2, 5)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/access/1/cloud-service-4", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodPost, "/api/subscriptions/"+itoa(second.ID)+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var users []gate.UserOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)

	assert.Equal(t, int64(1), users[0].UserID)
	assert.True(t, users[0].HasActiveSubscription)
	require.NotNil(t, users[0].Subscription)
	assert.Equal(t, first.PlanID, users[0].Subscription.PlanID)
	assert.Equal(t, int64(2), users[0].Subscription.UsageCount)
	assert.Equal(t, int64(5), users[0].Subscription.UsageLimit)
	assert.Equal(t, int64(3), users[0].Subscription.Remaining)
	require.Len(t, users[0].RecentActivity, 2)
	assert.Equal(t, domain.ServiceSearch, users[0].RecentActivity[0].ServiceID)

	assert.Equal(t, int64(2), users[1].UserID)
	assert.False(t, users[1].HasActiveSubscription)
	assert.Nil(t, users[1].Subscription)
	assert.Empty(t, users[1].RecentActivity)

	rec = env.do(t, http.MethodGet, "/api/users/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one gate.UserOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.True(t, one.HasActiveSubscription)
	assert.Len(t, one.RecentActivity, 2)

	rec = env.do(t, http.MethodGet, "/api/users/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["has_active_subscription"])
	assert.Nil(t, body["subscription_details"])
	assert.Equal(t, []interface{}{}, body["recent_activity"])

	rec = env.do(t, http.MethodGet, "/api/users/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/users/0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, int64(2), env.usage(t, first.ID), "directory reads are free")
}
