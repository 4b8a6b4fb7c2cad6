package proxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// PaymentIntents creates Stripe payment intents
type PaymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// PaymentRecorder stores payment attempts
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, entry *domain.PaymentAuditEntry) error
}

// Payments proxies the payments service to Stripe
type Payments struct {
	intents  PaymentIntents
	recorder PaymentRecorder
	amount   int64
	currency string
}

// NewStripeClient builds a Stripe API client. baseURL overrides the API endpoint when set.
func NewStripeClient(secretKey, baseURL string) *client.API {
	var backends *stripe.Backends
	if baseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(baseURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return api
}

// NewPayments creates the payments adapter. amount is in minor units.
func NewPayments(intents PaymentIntents, recorder PaymentRecorder, amount int64, currency string) *Payments {
	return &Payments{intents: intents, recorder: recorder, amount: amount, currency: strings.ToLower(currency)}
}

func (p *Payments) ServiceID() string { return domain.ServicePayments }

func (p *Payments) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServicePayments,
		Name:        domain.ServiceName(domain.ServicePayments),
		Status:      "active",
		Description: "Payment processing via Stripe",
	}
}

// Call creates a payment intent and records the attempt whatever its outcome.
// The amount parameter overrides the default amount.
func (p *Payments) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	if req.Operation != OpPayment {
		return nil, unsupported(domain.ServicePayments, req.Operation)
	}

	amount := p.amount
	if raw := req.Param("amount"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return nil, &domain.InvalidInputError{Field: "amount", Reason: "must be a positive integer"}
		}
		amount = v
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(p.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewString())
	params.AddMetadata("user_id", strconv.FormatInt(userID, 10))

	entry := &domain.PaymentAuditEntry{UserID: userID, Amount: amount, Currency: p.currency}
	intent, err := p.intents.New(params)
	if err != nil {
		entry.Outcome = domain.PaymentFailed
		entry.Detail = err.Error()
		if recErr := p.recorder.RecordPayment(context.WithoutCancel(ctx), entry); recErr != nil {
			return nil, fmt.Errorf("payment failed: %w (and recording it failed: %v)", err, recErr)
		}
		return nil, fmt.Errorf("payment failed: %w", err)
	}

	entry.Outcome = domain.PaymentSucceeded
	entry.Reference = intent.ID
	if err := p.recorder.RecordPayment(context.WithoutCancel(ctx), entry); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"payment_intent_id": intent.ID,
		"status":            intent.Status,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
		"client_secret":     intent.ClientSecret,
	}, nil
}
