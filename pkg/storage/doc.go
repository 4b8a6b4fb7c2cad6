// Package storage defines the persistence contracts for the gatekeeper.
//
// # Overview
//
// The storage layer is split into focused capabilities that compose into Store:
//
//   - PlanStore: plan catalog and permission grants
//   - SubscriptionStore: subscription lifecycle (one active subscription per user)
//   - AuditStore: append-only usage and payment audit trails
//   - QuotaStore: the locked read-modify-write used by the access gate
//
// # Backend Implementations
//
// sqlstore: database/sql backed by PostgreSQL (lib/pq) or SQLite (go-sqlite3).
// PostgreSQL serializes gate decisions per user with SELECT ... FOR UPDATE. SQLite runs
// on a single connection, so every transaction is already serialized.
//
//	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "postgres", DSN: dsn})
//
// memory: maps guarded by a store mutex plus one lock per user. Used for development
// and unit tests.
//
//	store := memory.New()
//
// # Quota transactions
//
// WithActiveSubscription locks the user's active subscription and hands the callback a
// QuotaTx. Returning nil commits every increment and audit append made through the
// QuotaTx; returning an error rolls all of them back.
//
//	err := store.WithActiveSubscription(ctx, userID, func(ctx context.Context, tx storage.QuotaTx) error {
//		plan, err := tx.Plan(ctx)
//		if err != nil {
//			return err
//		}
//		...
//		_, err = tx.IncrementUsage(ctx, plan.UsageLimit)
//		return err
//	})
package storage
