// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// Response helpers:
//
//	httputil.WriteSuccess(w, plan)
//	httputil.WriteCreated(w, subscription)
//	httputil.WriteDomainError(w, r, err) // maps domain error kinds onto status codes
//
// Request helpers:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	force, err := httputil.ParseQueryBool(r, "force", false)
//
// Middleware:
//
//	router.Use(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(metrics),
//		httputil.RecoveryMiddleware,
//	)
package httputil
