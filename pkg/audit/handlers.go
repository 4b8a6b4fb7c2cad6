package audit

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	recorder *Recorder
}

// NewHandlers creates new audit handlers
func NewHandlers(recorder *Recorder) *Handlers {
	return &Handlers{recorder: recorder}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/services/logs", h.listUsage).Methods("GET")
	router.HandleFunc("/services/{service_id}/logs", h.listUsage).Methods("GET")
	router.HandleFunc("/admin/logs/services/{user_id}", h.listUsage).Methods("GET")
	router.HandleFunc("/admin/logs/payments/{user_id}", h.listPayments).Methods("GET")
}

// listUsage handles every gate decision listing; path variables narrow the filter.
func (h *Handlers) listUsage(w http.ResponseWriter, r *http.Request) {
	filter, format, ok := parseListing(w, r)
	if !ok {
		return
	}

	entries, err := h.recorder.ListUsage(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	body, err := ExportUsage(entries, format)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	writeBody(w, format, body)
}

func (h *Handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	filter, format, ok := parseListing(w, r)
	if !ok {
		return
	}

	entries, err := h.recorder.ListPayments(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	body, err := ExportPayments(entries, format)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	writeBody(w, format, body)
}

func parseListing(w http.ResponseWriter, r *http.Request) (domain.AuditFilter, ExportFormat, bool) {
	var filter domain.AuditFilter
	vars := mux.Vars(r)

	if _, ok := vars["user_id"]; ok {
		userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
		if !ok {
			return filter, "", false
		}
		filter.UserID = userID
	}
	filter.ServiceID = vars["service_id"]

	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, "", false
	}
	filter.Limit = limit

	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return filter, "", false
	}
	return filter, format, true
}

func writeBody(w http.ResponseWriter, format ExportFormat, body []byte) {
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
