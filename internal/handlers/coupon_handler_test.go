package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

type MockCouponManager struct {
	mock.Mock
}

func (m *MockCouponManager) SaveCoupon(ctx context.Context, actorEmail string, req models.SaveCouponRequest) (*models.Coupon, error) {
	args := m.Called(ctx, actorEmail, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *MockCouponManager) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *MockCouponManager) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Coupon), args.Error(1)
}

func (m *MockCouponManager) DeleteCoupon(ctx context.Context, actorEmail string, id uuid.UUID) error {
	args := m.Called(ctx, actorEmail, id)
	return args.Error(0)
}

func (m *MockCouponManager) ValidateCoupon(ctx context.Context, identity string, req models.ValidateCouponRequest) (*models.CouponValidation, error) {
	args := m.Called(ctx, identity, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CouponValidation), args.Error(1)
}

func couponRouter(coupons *MockCouponManager) *CouponHandler {
	return NewCouponHandler(coupons, testLogger())
}

func TestCouponHandler_SaveCoupon_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"duplicate", fmt.Errorf("create: %w", services.ErrDuplicateCode), http.StatusConflict, "duplicate_code"},
		{"unknown scope id", services.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
		{"mixed scope", services.ErrAmbiguousScope, http.StatusBadRequest, "ambiguous_scope"},
		{"bad discount", services.ErrInvalidDiscount, http.StatusBadRequest, "invalid_discount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coupons := new(MockCouponManager)
			router := setupTestRouter()
			router.POST("/api/coupons", couponRouter(coupons).SaveCoupon)
			coupons.On("SaveCoupon", mock.Anything, "dona@loja.com", mock.Anything).Return(nil, tt.err)

			w := performJSON(router, http.MethodPost, "/api/coupons", map[string]interface{}{
				"code": "VERAO10", "discount_type": "percentage", "discount_value": "10", "apply_to_all": true,
			})

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
		})
	}
}

func TestCouponHandler_SaveCoupon_BindsScope(t *testing.T) {
	coupons := new(MockCouponManager)
	router := setupTestRouter()
	router.POST("/api/coupons", couponRouter(coupons).SaveCoupon)

	coupons.On("SaveCoupon", mock.Anything, "dona@loja.com", mock.MatchedBy(func(req models.SaveCouponRequest) bool {
		return req.Code == "LOOK15" && req.DiscountValue.Equal(decimal.NewFromInt(15)) && len(req.ProductIDs) == 2 && !req.ApplyToAll
	})).Return(&models.Coupon{ID: uuid.New(), Code: "LOOK15"}, nil)

	w := performJSON(router, http.MethodPost, "/api/coupons", map[string]interface{}{
		"code": "look15", "discount_type": "fixed", "discount_value": 15, "product_ids": []int64{7, 3},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	coupons.AssertExpectations(t)
}

func TestCouponHandler_SaveCoupon_BindingError(t *testing.T) {
	router := setupTestRouter()
	router.POST("/api/coupons", couponRouter(new(MockCouponManager)).SaveCoupon)

	w := performJSON(router, http.MethodPost, "/api/coupons", map[string]interface{}{"code": "X", "discount_type": "bogus"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_body", decodeError(t, w).Error)
}

func TestCouponHandler_GetAndDelete(t *testing.T) {
	coupons := new(MockCouponManager)
	router := setupTestRouter()
	h := couponRouter(coupons)
	router.GET("/api/coupons/:id", h.GetCoupon)
	router.DELETE("/api/coupons/:id", h.DeleteCoupon)
	id := uuid.New()

	coupons.On("GetCoupon", mock.Anything, id).Return(nil, services.ErrCouponNotFound)
	coupons.On("DeleteCoupon", mock.Anything, "dona@loja.com", id).Return(nil)

	w := performJSON(router, http.MethodGet, "/api/coupons/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performJSON(router, http.MethodGet, "/api/coupons/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(router, http.MethodDelete, "/api/coupons/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCouponHandler_ValidateCoupon(t *testing.T) {
	coupons := new(MockCouponManager)
	router := setupTestRouter()
	router.POST("/api/coupons/validate", couponRouter(coupons).ValidateCoupon)

	coupons.On("ValidateCoupon", mock.Anything, "dona@loja.com", mock.Anything).
		Return(&models.CouponValidation{Valid: false, Reason: services.ReasonExpired, Code: "OLD"}, nil)

	w := performJSON(router, http.MethodPost, "/api/coupons/validate", map[string]interface{}{"code": "old"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK         bool                    `json:"ok"`
		Validation models.CouponValidation `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Validation.Valid)
	assert.Equal(t, services.ReasonExpired, resp.Validation.Reason)
}
