package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/gateway"
	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

// IntentCreator opens payment intents
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, identity string, req models.PaymentIntentRequest) (*models.PaymentIntentResponse, error)
}

type PaymentHandler struct {
	payments IntentCreator
	logger   *logrus.Entry
}

func NewPaymentHandler(payments IntentCreator, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger.WithField("component", "payment_handler"),
	}
}

// CreatePaymentIntent opens a Stripe payment intent for a checkout
// @Summary Create a payment intent
// @Tags payments
// @Accept json
// @Produce json
// @Param body body models.PaymentIntentRequest true "Checkout"
// @Success 200 {object} models.PaymentIntentResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /payments/intent [post]
// @Security BearerAuth
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	var req models.PaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	resp, err := h.payments.CreatePaymentIntent(c.Request.Context(), c.GetString("user_email"), req)
	if err != nil {
		var gwErr *gateway.GatewayError
		switch {
		case errors.Is(err, services.ErrPaymentsOffline):
			respondError(c, http.StatusServiceUnavailable, "payments_not_configured")
		case errors.Is(err, services.ErrInvalidAmount):
			respondError(c, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, services.ErrNothingToCharge):
			respondError(c, http.StatusBadRequest, "nothing_to_charge")
		case errors.Is(err, services.ErrMissingIdentity):
			respondError(c, http.StatusBadRequest, "missing_identity")
		case errors.Is(err, services.ErrCouponRejected):
			respondError(c, http.StatusBadRequest, "coupon_rejected", err.Error())
		case errors.Is(err, services.ErrCouponUnavailable):
			respondError(c, http.StatusConflict, "coupon_unavailable")
		case errors.As(err, &gwErr):
			h.logger.WithError(err).WithField("code", gwErr.Code).Warn("payment gateway rejected intent")
			respondError(c, http.StatusBadGateway, "payment_failed", gwErr.Message)
		default:
			h.logger.WithError(err).Error("payment intent failed")
			respondError(c, http.StatusInternalServerError, "payment_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}
