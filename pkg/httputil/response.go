package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    domain.Kind            `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, code domain.Kind, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, domain.KindInvalidInput, message)
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	var planErr *domain.PlanNotFoundError
	if errors.As(err, &planErr) && planErr.Dangling() {
		return http.StatusInternalServerError
	}

	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNoSubscription, domain.KindNotFound, domain.KindUnknownService, domain.KindPlanNotFound:
		return http.StatusNotFound
	case domain.KindAlreadySubscribed, domain.KindDuplicateName, domain.KindHasDependents:
		return http.StatusConflict
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindDownstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err as an ErrorResponse. Server-side failures are logged
// with the request logger and answered with an opaque message.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: domain.KindOf(err)}

	if status == http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).WithError(err).Error("Request failed")
		resp = ErrorResponse{Error: "internal server error", Code: domain.KindInternal}
		if errors.Is(err, domain.ErrIntegrityFault) {
			resp.Code = domain.KindIntegrityFault
		}
		WriteJSON(w, status, resp)
		return
	}

	resp.Details = errorDetails(err)
	WriteJSON(w, status, resp)
}

func errorDetails(err error) map[string]interface{} {
	var (
		quota   *domain.QuotaExceededError
		dup     *domain.DuplicateNameError
		deps    *domain.HasDependentsError
		invalid *domain.InvalidInputError
		down    *domain.DownstreamError
	)
	switch {
	case errors.As(err, &quota):
		return map[string]interface{}{"usage": quota.Usage, "limit": quota.Limit}
	case errors.As(err, &dup):
		return map[string]interface{}{"resource": dup.Resource, "name": dup.Name}
	case errors.As(err, &deps):
		return map[string]interface{}{"resource": deps.Resource, "id": deps.ID, "dependents": deps.Dependents}
	case errors.As(err, &invalid):
		return map[string]interface{}{"field": invalid.Field}
	case errors.As(err, &down):
		return map[string]interface{}{"service": down.Service}
	}
	return nil
}
