package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/gateway"
	"look-marketplace/internal/models"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrCouponRejected  = errors.New("coupon does not apply")
	ErrPaymentsOffline = errors.New("payments are not configured")
	ErrNothingToCharge = errors.New("discount covers the whole amount")
)

// PaymentGateway creates and cancels payment intents
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.IntentResult, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

// CouponRedeemer validates a coupon against a cart and records its use
type CouponRedeemer interface {
	ValidateCoupon(ctx context.Context, identity string, req models.ValidateCouponRequest) (*models.CouponValidation, error)
	RedeemCoupon(ctx context.Context, couponID uuid.UUID, identity, orderRef string, amount decimal.Decimal) error
}

// PaymentService opens Stripe payment intents for checkouts
type PaymentService struct {
	gateway         PaymentGateway
	coupons         CouponRedeemer
	defaultCurrency string
	logger          *logrus.Entry
}

// NewPaymentService creates a payment service. gw may be nil when Stripe is
// not configured; every call then fails with ErrPaymentsOffline.
func NewPaymentService(gw PaymentGateway, coupons CouponRedeemer, defaultCurrency string, logger *logrus.Logger) *PaymentService {
	if defaultCurrency == "" {
		defaultCurrency = "brl"
	}
	return &PaymentService{
		gateway:         gw,
		coupons:         coupons,
		defaultCurrency: strings.ToLower(defaultCurrency),
		logger:          logger.WithField("component", "payment_service"),
	}
}

// CreatePaymentIntent applies the optional coupon and opens an intent for the
// remaining amount. The coupon use is recorded once the intent exists; if that
// fails the intent is cancelled.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, identity string, req models.PaymentIntentRequest) (*models.PaymentIntentResponse, error) {
	if s.gateway == nil {
		return nil, ErrPaymentsOffline
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	discount := decimal.Zero
	var validation *models.CouponValidation
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		if identity == "" {
			return nil, ErrMissingIdentity
		}
		var err error
		validation, err = s.coupons.ValidateCoupon(ctx, identity, models.ValidateCouponRequest{Code: code, Items: req.Items})
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return nil, fmt.Errorf("%w: %s", ErrCouponRejected, validation.Reason)
		}
		discount = decimal.Min(validation.Discount, req.Amount)
	}

	total := req.Amount.Sub(discount).Round(2)
	if total.Shift(2).IntPart() <= 0 {
		return nil, ErrNothingToCharge
	}
	metadata := map[string]string{}
	if validation != nil {
		metadata["coupon_code"] = validation.Code
		metadata["coupon_discount"] = discount.StringFixed(2)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.IntentRequest{
		AmountCents:   total.Shift(2).IntPart(),
		Currency:      currency,
		OrderRef:      req.OrderRef,
		CustomerEmail: identity,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	if validation != nil {
		if err := s.coupons.RedeemCoupon(ctx, validation.CouponID, identity, req.OrderRef, discount); err != nil {
			if cancelErr := s.gateway.CancelPaymentIntent(ctx, intent.ID); cancelErr != nil {
				s.logger.WithError(cancelErr).WithField("intent_id", intent.ID).Error("failed to cancel intent after redemption failure")
			}
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"order_ref": req.OrderRef,
		"amount":    total.String(),
		"discount":  discount.String(),
	}).Info("payment intent created")

	return &models.PaymentIntentResponse{
		OK:           true,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       total,
		Discount:     discount,
		Currency:     currency,
	}, nil
}
