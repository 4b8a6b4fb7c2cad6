// Package plans is the plan catalog: plan and permission management in front of
// the store, with a TTL-bounded LRU cache for plan reads.
//
//	catalog := plans.NewCatalog(store, plans.Config{Size: 256, TTL: time.Minute}, logger, metrics)
//	plan, err := catalog.GetPlan(ctx, id)
//
// Writes invalidate the affected cache entries. Concurrent misses for the same
// plan share a single store read.
package plans
