package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

var ErrNotConfigured = errors.New("stripe secret key is not configured")

// GatewayError is a normalized payment provider error
type GatewayError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeclineCode string `json:"decline_code,omitempty"`
	Param       string `json:"param,omitempty"`
	Retryable   bool   `json:"retryable"`
}

func (e *GatewayError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IntentRequest describes a PaymentIntent to create. AmountCents is in the
// currency's minor unit.
type IntentRequest struct {
	AmountCents   int64
	Currency      string
	OrderRef      string
	CustomerEmail string
	Description   string
	Metadata      map[string]string
}

// IntentResult is what the storefront needs to confirm the payment
type IntentResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// StripeGateway creates PaymentIntents through the Stripe API
type StripeGateway struct {
	intents *paymentintent.Client
}

// NewStripeGateway creates a gateway with its own API key. backend may be nil
// to use the default Stripe API backend.
func NewStripeGateway(secretKey string, backend stripe.Backend) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrNotConfigured
	}
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeGateway{intents: &paymentintent.Client{B: backend, Key: secretKey}}, nil
}

// CreatePaymentIntent creates an intent with automatic payment methods. The
// order reference is used as idempotency key so a retried checkout reuses the
// same intent.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.AmountCents <= 0 {
		return nil, NewGatewayError("invalid_amount", "amount must be positive", false)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.OrderRef != "" {
		params.SetIdempotencyKey("look-intent-" + req.OrderRef)
		params.AddMetadata("order_ref", req.OrderRef)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, handleStripeError(err)
	}
	return &IntentResult{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// CancelPaymentIntent cancels an intent that will not be paid
func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := g.intents.Cancel(id, params); err != nil {
		return handleStripeError(err)
	}
	return nil
}

// NewGatewayError creates a GatewayError
func NewGatewayError(code, message string, retryable bool) *GatewayError {
	return &GatewayError{Code: code, Message: message, Retryable: retryable}
}

func handleStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &GatewayError{
			Code:        string(stripeErr.Code),
			Message:     stripeErr.Msg,
			DeclineCode: string(stripeErr.DeclineCode),
			Param:       stripeErr.Param,
			Retryable:   isRetryable(stripeErr),
		}
	}
	return NewGatewayError("unknown_error", err.Error(), false)
}

func isRetryable(err *stripe.Error) bool {
	if err.HTTPStatusCode == 429 {
		return true
	}
	switch err.Code {
	case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout, stripe.ErrorCodeIdempotencyKeyInUse:
		return true
	}
	return false
}
