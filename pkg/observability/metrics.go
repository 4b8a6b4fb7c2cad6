package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate decision labels
const (
	DecisionAllowed        = "allowed"
	DecisionQuotaExceeded  = "quota_exceeded"
	DecisionNoSubscription = "no_subscription"
	DecisionPlanNotFound   = "plan_not_found"
	DecisionError          = "error"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Gate metrics
	GateDecisionsTotal    *prometheus.CounterVec
	GateDecisionDuration  *prometheus.HistogramVec
	IntegrityFaultsTotal  prometheus.Counter
	DanglingSubscriptions prometheus.Gauge

	// Proxy metrics
	ProxyCallsTotal   *prometheus.CounterVec
	ProxyCallDuration *prometheus.HistogramVec

	// Plan catalog cache
	PlanCacheHitsTotal   prometheus.Counter
	PlanCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_gate_decisions_total",
				Help: "Total number of access gate decisions",
			},
			[]string{"service", "decision"},
		),
		GateDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_gate_decision_duration_seconds",
				Help:    "Time spent deciding and recording a gate decision",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		IntegrityFaultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_integrity_faults_total",
				Help: "Total number of subscriptions found referencing a missing plan",
			},
		),
		DanglingSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_dangling_subscriptions",
				Help: "Subscriptions referencing a missing plan at the last integrity sweep",
			},
		),
		ProxyCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_proxy_calls_total",
				Help: "Total number of downstream service calls",
			},
			[]string{"service", "status"},
		),
		ProxyCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_proxy_call_duration_seconds",
				Help:    "Downstream service call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		PlanCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_plan_cache_hits_total",
				Help: "Plan catalog cache hits",
			},
		),
		PlanCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_plan_cache_misses_total",
				Help: "Plan catalog cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisionsTotal,
		m.GateDecisionDuration,
		m.IntegrityFaultsTotal,
		m.DanglingSubscriptions,
		m.ProxyCallsTotal,
		m.ProxyCallDuration,
		m.PlanCacheHitsTotal,
		m.PlanCacheMissesTotal,
	)

	return m
}

// Handler returns the HTTP handler for the metrics endpoint
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records an HTTP request
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveGateDecision records a gate decision
func (m *Metrics) ObserveGateDecision(service, decision string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(service, decision).Inc()
	m.GateDecisionDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordIntegrityFault counts a subscription found referencing a missing plan
func (m *Metrics) RecordIntegrityFault() {
	if m == nil {
		return
	}
	m.IntegrityFaultsTotal.Inc()
}

// SetDanglingSubscriptions records the result of an integrity sweep
func (m *Metrics) SetDanglingSubscriptions(n int) {
	if m == nil {
		return
	}
	m.DanglingSubscriptions.Set(float64(n))
}

// ObserveProxyCall records a downstream call
func (m *Metrics) ObserveProxyCall(service string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ProxyCallsTotal.WithLabelValues(service, status).Inc()
	m.ProxyCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordPlanCache records a plan cache lookup
func (m *Metrics) RecordPlanCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PlanCacheHitsTotal.Inc()
	} else {
		m.PlanCacheMissesTotal.Inc()
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
