// Package gate is the quota-gated access decision in front of every proxied service.
//
// Authorize loads the caller's active subscription under a per-user lock, compares the
// usage counter with the plan limit and, when allowed, increments the counter and
// appends a success audit entry in the same transaction. Denials are recorded as
// denied audit entries after the transaction; the counter is left untouched.
//
//	auth, err := g.Authorize(ctx, userID, domain.ServiceSearch)
//	if err != nil {
//		// *domain.NoSubscriptionError, *domain.QuotaExceededError, *domain.PlanNotFoundError...
//	}
//	result, err := g.Invoke(ctx, auth, req)
//
// Usage is charged on attempt: a failed downstream call keeps the increment and adds
// an error audit entry.
package gate
