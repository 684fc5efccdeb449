package models

import "github.com/shopspring/decimal"

// PaymentIntentRequest starts a checkout payment. When CouponCode is set the
// coupon is validated against Items and its discount taken off Amount.
type PaymentIntentRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OrderRef   string          `json:"order_ref" binding:"required"`
	CouponCode string          `json:"coupon_code"`
	Items      []CartItem      `json:"items"`
}

// PaymentIntentResponse is returned to the storefront
type PaymentIntentResponse struct {
	OK           bool            `json:"ok"`
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Discount     decimal.Decimal `json:"discount"`
	Currency     string          `json:"currency"`
}
