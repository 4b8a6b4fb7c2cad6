package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/gate"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/plans"
	"github.com/platinummonkey/gatekeeper/pkg/proxy"
	"github.com/platinummonkey/gatekeeper/pkg/subscriptions"
)

// maxBodyBytes bounds request bodies, uploads included
const maxBodyBytes = 32 << 20

// ServiceDirectory lists the proxied services
type ServiceDirectory interface {
	Services() []proxy.ServiceInfo
}

// Deps are the components the server routes to
type Deps struct {
	Catalog       *plans.Catalog
	Subscriptions *subscriptions.Service
	Gate          *gate.Gate
	Services      ServiceDirectory
	Recorder      *audit.Recorder
	Logger        logrus.FieldLogger
	Metrics       *observability.Metrics
}

// Server represents our API server
type Server struct {
	router   *mux.Router
	handler  http.Handler
	catalog  *plans.Catalog
	subs     *subscriptions.Service
	gate     *gate.Gate
	services ServiceDirectory
	recorder *audit.Recorder
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		catalog:  deps.Catalog,
		subs:     deps.Subscriptions,
		gate:     deps.Gate,
		services: deps.Services,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}

	s.router.Use(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware(s.metrics),
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, domain.KindNotFound, "route not found")
	})

	s.setupRoutes()
	s.handler = otelhttp.NewHandler(s.router, "gatekeeper-api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Plan routes
	api.HandleFunc("/plans", s.listPlans).Methods("GET")
	api.HandleFunc("/plans", s.createPlan).Methods("POST")
	api.HandleFunc("/plans/{id}", s.getPlan).Methods("GET")
	api.HandleFunc("/plans/{id}", s.updatePlan).Methods("PUT")
	api.HandleFunc("/plans/{id}", s.deletePlan).Methods("DELETE")
	api.HandleFunc("/plans/{id}/permissions/{permission_id}", s.grantPermission).Methods("PUT")
	api.HandleFunc("/plans/{id}/permissions/{permission_id}", s.revokePermission).Methods("DELETE")

	// Permission routes
	api.HandleFunc("/permissions", s.listPermissions).Methods("GET")
	api.HandleFunc("/permissions", s.createPermission).Methods("POST")
	api.HandleFunc("/permissions/{id}", s.getPermission).Methods("GET")
	api.HandleFunc("/permissions/{id}", s.updatePermission).Methods("PUT")
	api.HandleFunc("/permissions/{id}", s.deletePermission).Methods("DELETE")

	// Subscription routes
	api.HandleFunc("/subscriptions", s.listSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions", s.createSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/user/{user_id}", s.getActiveSubscription).Methods("GET")
	api.HandleFunc("/subscriptions/{id}", s.getSubscription).Methods("GET")
	api.HandleFunc("/subscriptions/{id}/plan", s.changePlan).Methods("PUT")
	api.HandleFunc("/subscriptions/{id}/deactivate", s.deactivateSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", s.deleteSubscription).Methods("DELETE")

	// Access routes
	api.HandleFunc("/access/{user_id}/{service_id}", s.checkAccess).Methods("POST")
	api.HandleFunc("/usage/{user_id}", s.getUsage).Methods("GET")
	api.HandleFunc("/usage/{user_id}/limit", s.getLimit).Methods("GET")
	api.HandleFunc("/services", s.listServices).Methods("GET")
	api.HandleFunc("/users", s.listUsers).Methods("GET")
	api.HandleFunc("/users/{user_id}", s.getUser).Methods("GET")

	// Audit routes go before /services/{service_id} so "logs" is not taken for a service id
	audit.NewHandlers(s.recorder).RegisterRoutes(api)

	s.registerServiceRoutes(api)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}
