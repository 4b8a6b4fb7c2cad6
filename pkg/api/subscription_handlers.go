package api

import (
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// SubscribeRequest is the body of POST /api/subscriptions
type SubscribeRequest struct {
	UserID int64 `json:"user_id"`
	PlanID int64 `json:"plan_id"`
}

// ChangePlanRequest is the body of PUT /api/subscriptions/{id}/plan
type ChangePlanRequest struct {
	PlanID int64 `json:"plan_id"`
}

// listSubscriptions handles GET /api/subscriptions
func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	list, err := s.subs.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createSubscription handles POST /api/subscriptions
func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub, err := s.subs.Subscribe(r.Context(), req.UserID, req.PlanID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// getActiveSubscription handles GET /api/subscriptions/user/{user_id}
func (s *Server) getActiveSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	sub, err := s.subs.GetActive(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// getSubscription handles GET /api/subscriptions/{id}
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// changePlan handles PUT /api/subscriptions/{id}/plan
func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ChangePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	sub, err := s.subs.ChangePlan(r.Context(), id, req.PlanID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// deactivateSubscription handles POST /api/subscriptions/{id}/deactivate
func (s *Server) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.subs.Deactivate(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// deleteSubscription handles DELETE /api/subscriptions/{id}?force=true
func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	force, err := httputil.ParseQueryBool(r, "force", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.subs.Delete(r.Context(), id, force); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
