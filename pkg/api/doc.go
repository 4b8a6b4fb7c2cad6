// Package api provides the HTTP REST API of the access gate.
//
// # Overview
//
// The API is built on gorilla/mux and mounted under /api. It exposes three groups of
// endpoints:
//
//   - Catalog: plans, permissions and the grants between them
//   - Subscriptions: subscribe, change plan, deactivate, delete
//   - Access: gate checks, usage summaries and the gated third-party service endpoints
//
// Audit log listings are registered by the audit package on the same router.
//
// # Gated endpoints
//
// Every service endpoint takes the caller in the user_id query parameter. A request
// is parsed and validated first, then charged by the gate, then forwarded through the
// proxy facade. Rejected input never consumes quota; a downstream failure after the
// gate does.
//
//	server := api.NewServer(api.Deps{
//		Catalog:       catalog,
//		Subscriptions: subs,
//		Gate:          g,
//		Services:      facade,
//		Recorder:      recorder,
//		Logger:        logger,
//		Metrics:       metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Errors
//
// Domain errors are written by httputil.WriteDomainError as
// {"error": ..., "code": ..., "details": {...}}.
package api
