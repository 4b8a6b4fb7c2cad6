package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/gate"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/proxy"
)

type contextKey int

const (
	authorizationKey contextKey = iota
	proxyRequestKey
)

// AuthorizationFromContext returns the authorization stored by GateMiddleware.
func AuthorizationFromContext(ctx context.Context) (*gate.Authorization, bool) {
	auth, ok := ctx.Value(authorizationKey).(*gate.Authorization)
	return auth, ok
}

// ServiceResponse is the body of a successful gated service call
type ServiceResponse struct {
	*proxy.Result
	UsageCount int64 `json:"usage_count"`
	UsageLimit int64 `json:"usage_limit"`
	Remaining  int64 `json:"remaining_calls"`
}

// requestBuilder turns an HTTP request into a proxy request, rejecting bad input
// before any quota is charged.
type requestBuilder func(r *http.Request) (proxy.Request, error)

func (s *Server) registerServiceRoutes(api *mux.Router) {
	api.Handle("/services/{service_id}", s.gated(pathService, infoRequest)).Methods("GET")

	api.Handle("/cloud-service-1/payment", s.gated(fixedService(domain.ServicePayments), paymentRequest)).Methods("POST")
	api.Handle("/cloud-service-2/auth", s.gated(fixedService(domain.ServiceAuth), tokenRequest)).Methods("GET")
	api.Handle("/cloud-service-3/storage", s.gated(fixedService(domain.ServiceStorage), uploadRequest)).Methods("POST")
	api.Handle("/cloud-service-4/search", s.gated(fixedService(domain.ServiceSearch), searchRequest)).Methods("GET")
	api.Handle("/cloud-service-5/queue", s.gated(fixedService(domain.ServiceMessaging), publishRequest)).Methods("POST")
	api.Handle("/cloud-service-6/cache/{key}", s.gated(fixedService(domain.ServiceCache), cacheGetRequest)).Methods("GET")
	api.Handle("/cloud-service-6/cache", s.gated(fixedService(domain.ServiceCache), cacheSetRequest)).Methods("POST")
}

func (s *Server) gated(service func(*http.Request) string, build requestBuilder) http.Handler {
	return withProxyRequest(build, s.GateMiddleware(service)(http.HandlerFunc(s.invokeService)))
}

func pathService(r *http.Request) string { return mux.Vars(r)["service_id"] }

func fixedService(id string) func(*http.Request) string {
	return func(*http.Request) string { return id }
}

// GateMiddleware charges the user named by the user_id query parameter for the
// service before calling next. Denials are written as error responses.
func (s *Server) GateMiddleware(service func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := httputil.ParseQueryInt64(r, "user_id", 0)
			if err != nil {
				httputil.WriteDomainError(w, r, &domain.InvalidInputError{Field: "user_id", Reason: "must be an integer"})
				return
			}

			auth, err := s.gate.Authorize(r.Context(), userID, service(r))
			if err != nil {
				httputil.WriteDomainError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), authorizationKey, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withProxyRequest(build requestBuilder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := build(r)
		if err != nil {
			httputil.WriteDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), proxyRequestKey, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) invokeService(w http.ResponseWriter, r *http.Request) {
	auth, ok := AuthorizationFromContext(r.Context())
	if !ok {
		httputil.WriteDomainError(w, r, errors.New("gated handler reached without authorization"))
		return
	}
	req, _ := r.Context().Value(proxyRequestKey).(proxy.Request)

	result, err := s.gate.Invoke(r.Context(), auth, req)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ServiceResponse{
		Result:     result,
		UsageCount: auth.UsageCount,
		UsageLimit: auth.UsageLimit,
		Remaining:  auth.Remaining,
	})
}

func infoRequest(r *http.Request) (proxy.Request, error) {
	return proxy.Request{Operation: proxy.OpInfo}, nil
}

func tokenRequest(r *http.Request) (proxy.Request, error) {
	return proxy.Request{Operation: proxy.OpToken}, nil
}

// optionalJSON decodes a JSON body when one is present.
func optionalJSON(r *http.Request, dest interface{}) error {
	if err := httputil.ParseJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return &domain.InvalidInputError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func paymentRequest(r *http.Request) (proxy.Request, error) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := optionalJSON(r, &body); err != nil {
		return proxy.Request{}, err
	}
	if body.Amount < 0 {
		return proxy.Request{}, &domain.InvalidInputError{Field: "amount", Reason: "must be a positive integer"}
	}
	req := proxy.Request{Operation: proxy.OpPayment, Params: map[string]string{}}
	if body.Amount > 0 {
		req.Params["amount"] = strconv.FormatInt(body.Amount, 10)
	}
	return req, nil
}

func uploadRequest(r *http.Request) (proxy.Request, error) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return proxy.Request{}, &domain.InvalidInputError{Field: "file", Reason: "expected a multipart form"}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return proxy.Request{}, &domain.InvalidInputError{Field: "file", Reason: "no file part"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return proxy.Request{}, &domain.InvalidInputError{Field: "file", Reason: err.Error()}
	}
	if _, err := proxy.UploadName(header.Filename); err != nil {
		return proxy.Request{}, err
	}
	return proxy.Request{
		Operation: proxy.OpUpload,
		Filename:  header.Filename,
		Body:      data,
		Params:    map[string]string{"content_type": header.Header.Get("Content-Type")},
	}, nil
}

func searchRequest(r *http.Request) (proxy.Request, error) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		return proxy.Request{}, &domain.InvalidInputError{Field: "query", Reason: "a search query is required"}
	}
	return proxy.Request{Operation: proxy.OpSearch, Params: map[string]string{"query": query}}, nil
}

func publishRequest(r *http.Request) (proxy.Request, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := httputil.ParseJSON(r, &body); err != nil {
		return proxy.Request{}, &domain.InvalidInputError{Field: "body", Reason: err.Error()}
	}
	if body.Message == "" {
		return proxy.Request{}, &domain.InvalidInputError{Field: "message", Reason: "a message is required"}
	}
	return proxy.Request{Operation: proxy.OpPublish, Params: map[string]string{"message": body.Message}}, nil
}

func cacheGetRequest(r *http.Request) (proxy.Request, error) {
	return proxy.Request{Operation: proxy.OpGet, Params: map[string]string{"key": mux.Vars(r)["key"]}}, nil
}

func cacheSetRequest(r *http.Request) (proxy.Request, error) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		TTL   string `json:"ttl"`
	}
	if err := httputil.ParseJSON(r, &body); err != nil {
		return proxy.Request{}, &domain.InvalidInputError{Field: "body", Reason: err.Error()}
	}
	if body.Key == "" {
		return proxy.Request{}, &domain.InvalidInputError{Field: "key", Reason: "a key is required"}
	}
	return proxy.Request{
		Operation: proxy.OpSet,
		Params:    map[string]string{"key": body.Key, "value": body.Value, "ttl": body.TTL},
	}, nil
}
