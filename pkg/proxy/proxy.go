package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Operations understood by the adapters
const (
	OpInfo    = "info"
	OpPayment = "payment"
	OpToken   = "token"
	OpUpload  = "upload"
	OpSearch  = "search"
	OpPublish = "publish"
	OpGet     = "get"
	OpSet     = "set"
)

// ErrNotConfigured is wrapped in the DownstreamError of a service with no adapter.
var ErrNotConfigured = errors.New("service is not configured")

// Request is the payload handed to an adapter
type Request struct {
	Operation string
	Params    map[string]string
	Body      []byte
	Filename  string
}

// Param returns a request parameter or "".
func (r Request) Param(key string) string {
	return r.Params[key]
}

// Result is an adapter's answer
type Result struct {
	Service   string      `json:"service"`
	Operation string      `json:"operation"`
	Data      interface{} `json:"data"`
}

// ServiceInfo describes a proxied service
type ServiceInfo struct {
	ID          string `json:"service_id"`
	Name        string `json:"service"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Adapter performs calls against one third-party service
type Adapter interface {
	ServiceID() string
	Info() ServiceInfo
	Call(ctx context.Context, userID int64, req Request) (interface{}, error)
}

// Facade routes requests to adapters under a per-call timeout
type Facade struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	timeout  time.Duration
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// NewFacade creates a facade. A zero timeout disables the per-call deadline.
func NewFacade(timeout time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Facade {
	return &Facade{
		adapters: make(map[string]Adapter),
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds or replaces the adapter for its service id
func (f *Facade) Register(a Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[a.ServiceID()] = a
	f.logger.WithField("service_id", a.ServiceID()).Info("Service adapter registered")
}

// Services describes every service in the fixed set, configured or not.
func (f *Facade) Services() []ServiceInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	infos := make([]ServiceInfo, 0, len(domain.ServiceIDs()))
	for _, id := range domain.ServiceIDs() {
		if a, ok := f.adapters[id]; ok {
			infos = append(infos, a.Info())
			continue
		}
		infos = append(infos, unavailable(id))
	}
	return infos
}

// Invoke calls serviceID on behalf of userID.
func (f *Facade) Invoke(ctx context.Context, serviceID string, userID int64, req Request) (*Result, error) {
	if err := domain.ValidateServiceID(serviceID); err != nil {
		return nil, err
	}
	if req.Operation == "" {
		req.Operation = OpInfo
	}

	f.mu.RLock()
	adapter, ok := f.adapters[serviceID]
	f.mu.RUnlock()

	if req.Operation == OpInfo {
		info := unavailable(serviceID)
		if ok {
			info = adapter.Info()
		}
		return &Result{Service: serviceID, Operation: OpInfo, Data: info}, nil
	}
	if !ok {
		return nil, &domain.DownstreamError{Service: serviceID, Err: ErrNotConfigured}
	}

	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := adapter.Call(callCtx, userID, req)
	f.metrics.ObserveProxyCall(serviceID, err, time.Since(start))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, &domain.DownstreamError{Service: serviceID, Err: err}
	}
	return &Result{Service: serviceID, Operation: req.Operation, Data: data}, nil
}

func unavailable(id string) ServiceInfo {
	return ServiceInfo{
		ID:          id,
		Name:        domain.ServiceName(id),
		Status:      "unavailable",
		Description: fmt.Sprintf("%s service is not configured", domain.ServiceName(id)),
	}
}

func unsupported(serviceID, op string) error {
	return &domain.InvalidInputError{Field: "operation", Reason: fmt.Sprintf("%s does not support %q", serviceID, op)}
}
