package api

import (
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// PlanRequest is the body of plan create and update calls
type PlanRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	UsageLimit    int64   `json:"usage_limit"`
	PermissionIDs []int64 `json:"permission_ids,omitempty"`
}

// PermissionRequest is the body of permission create and update calls
type PermissionRequest struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
}

// listPlans handles GET /api/plans
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.ListPlans(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createPlan handles POST /api/plans
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan := &domain.Plan{Name: req.Name, Description: req.Description, UsageLimit: req.UsageLimit}
	if err := s.catalog.CreatePlan(r.Context(), plan); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	for _, permID := range req.PermissionIDs {
		if err := s.catalog.GrantPermission(r.Context(), plan.ID, permID); err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
	}

	created, err := s.catalog.GetPlan(r.Context(), plan.ID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// getPlan handles GET /api/plans/{id}
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	plan, err := s.catalog.GetPlan(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// updatePlan handles PUT /api/plans/{id}
func (s *Server) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req PlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	plan := &domain.Plan{ID: id, Name: req.Name, Description: req.Description, UsageLimit: req.UsageLimit}
	if err := s.catalog.UpdatePlan(r.Context(), plan); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	updated, err := s.catalog.GetPlan(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deletePlan handles DELETE /api/plans/{id}?force=true
func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	force, err := httputil.ParseQueryBool(r, "force", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.catalog.DeletePlan(r.Context(), id, force); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// grantPermission handles PUT /api/plans/{id}/permissions/{permission_id}
func (s *Server) grantPermission(w http.ResponseWriter, r *http.Request) {
	planID, permID, ok := planPermissionIDs(w, r)
	if !ok {
		return
	}
	if err := s.catalog.GrantPermission(r.Context(), planID, permID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	plan, err := s.catalog.GetPlan(r.Context(), planID)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// revokePermission handles DELETE /api/plans/{id}/permissions/{permission_id}
func (s *Server) revokePermission(w http.ResponseWriter, r *http.Request) {
	planID, permID, ok := planPermissionIDs(w, r)
	if !ok {
		return
	}
	if err := s.catalog.RevokePermission(r.Context(), planID, permID); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func planPermissionIDs(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	permID, ok := httputil.ParsePathInt64OrError(w, r, "permission_id")
	if !ok {
		return 0, 0, false
	}
	return planID, permID, true
}

// listPermissions handles GET /api/permissions
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createPermission handles POST /api/permissions
func (s *Server) createPermission(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	perm := &domain.Permission{Name: req.Name, Endpoint: req.Endpoint, Description: req.Description}
	if err := s.catalog.CreatePermission(r.Context(), perm); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteCreated(w, perm)
}

// getPermission handles GET /api/permissions/{id}
func (s *Server) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	perm, err := s.catalog.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}

// updatePermission handles PUT /api/permissions/{id}
func (s *Server) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req PermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	perm := &domain.Permission{ID: id, Name: req.Name, Endpoint: req.Endpoint, Description: req.Description}
	if err := s.catalog.UpdatePermission(r.Context(), perm); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	updated, err := s.catalog.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// deletePermission handles DELETE /api/permissions/{id}
func (s *Server) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.catalog.DeletePermission(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
