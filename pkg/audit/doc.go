// Package audit exposes the two append-only audit trails: gate decisions on proxied
// services and payment attempts.
//
// # Recording
//
//	recorder := audit.NewRecorder(store, logger)
//	recorder.RecordPayment(ctx, &domain.PaymentAuditEntry{UserID: 7, Amount: 1000, Currency: "usd", Outcome: domain.PaymentSucceeded})
//
// Gate decisions are written by the gate itself, inside its quota transaction.
//
// # Querying
//
// Listings are newest first and bounded (default 100, maximum 1000):
//
//	entries, err := recorder.ListUsage(ctx, domain.AuditFilter{UserID: 7, ServiceID: "cloud-service-4"})
//
// # HTTP API
//
//	GET /services/logs                     all gate decisions
//	GET /services/{service_id}/logs        decisions for one service
//	GET /admin/logs/services/{user_id}     decisions for one user
//	GET /admin/logs/payments/{user_id}     payment attempts for one user
//
// Every listing accepts limit and format (json, ndjson or csv).
package audit
