package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// AccessResponse is returned by a successful gate check
type AccessResponse struct {
	Access       string `json:"access"`
	UserID       int64  `json:"user_id"`
	ServiceID    string `json:"service_id"`
	CurrentUsage int64  `json:"current_usage"`
	UsageLimit   int64  `json:"usage_limit"`
	Remaining    int64  `json:"remaining_calls"`
}

// checkAccess handles POST /api/access/{user_id}/{service_id}. It charges one call
// without forwarding anything.
func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	auth, err := s.gate.Authorize(r.Context(), userID, mux.Vars(r)["service_id"])
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, AccessResponse{
		Access:       "granted",
		UserID:       auth.UserID,
		ServiceID:    auth.ServiceID,
		CurrentUsage: auth.UsageCount,
		UsageLimit:   auth.UsageLimit,
		Remaining:    auth.Remaining,
	})
}

// getUsage handles GET /api/usage/{user_id}
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	summary, err := s.gate.Usage(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// getLimit handles GET /api/usage/{user_id}/limit
func (s *Server) getLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	status, err := s.gate.LimitStatus(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// listUsers handles GET /api/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.gate.Users(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// getUser handles GET /api/users/{user_id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	user, err := s.gate.User(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// listServices handles GET /api/services. Listing is free.
func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"services": s.services.Services()})
}
