package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

// CouponManager is the coupon surface used by the HTTP layer
type CouponManager interface {
	SaveCoupon(ctx context.Context, actorEmail string, req models.SaveCouponRequest) (*models.Coupon, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	DeleteCoupon(ctx context.Context, actorEmail string, id uuid.UUID) error
	ValidateCoupon(ctx context.Context, identity string, req models.ValidateCouponRequest) (*models.CouponValidation, error)
}

type CouponHandler struct {
	coupons CouponManager
	logger  *logrus.Entry
}

func NewCouponHandler(coupons CouponManager, logger *logrus.Logger) *CouponHandler {
	return &CouponHandler{
		coupons: coupons,
		logger:  logger.WithField("component", "coupon_handler"),
	}
}

var couponErrorCodes = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrCouponNotFound, http.StatusNotFound, "coupon_not_found"},
	{services.ErrDuplicateCode, http.StatusConflict, "duplicate_code"},
	{services.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
	{services.ErrMissingScope, http.StatusBadRequest, "missing_scope"},
	{services.ErrAmbiguousScope, http.StatusBadRequest, "ambiguous_scope"},
	{services.ErrInvalidCouponCode, http.StatusBadRequest, "invalid_code"},
	{services.ErrInvalidDiscount, http.StatusBadRequest, "invalid_discount"},
	{services.ErrInvalidUsageKind, http.StatusBadRequest, "invalid_usage_kind"},
	{services.ErrInvalidMaxUses, http.StatusBadRequest, "invalid_max_uses"},
	{services.ErrMissingIdentity, http.StatusBadRequest, "missing_identity"},
}

func (h *CouponHandler) respondCouponError(c *gin.Context, err error, fallback string) {
	for _, m := range couponErrorCodes {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code)
			return
		}
	}
	h.logger.WithError(err).Error(fallback)
	respondError(c, http.StatusInternalServerError, fallback, err.Error())
}

// ListCoupons lists every coupon with its applicability rows
// @Summary List coupons
// @Tags coupons
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /coupons [get]
// @Security BearerAuth
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	coupons, err := h.coupons.ListCoupons(c.Request.Context())
	if err != nil {
		h.respondCouponError(c, err, "coupon_list_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": coupons})
}

// SaveCoupon creates a coupon or updates the one with the same code
// @Summary Save a coupon
// @Tags coupons
// @Accept json
// @Produce json
// @Param coupon body models.SaveCouponRequest true "Coupon"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /coupons [post]
// @Security BearerAuth
func (h *CouponHandler) SaveCoupon(c *gin.Context) {
	var req models.SaveCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	coupon, err := h.coupons.SaveCoupon(c.Request.Context(), c.GetString("user_email"), req)
	if err != nil {
		h.respondCouponError(c, err, "coupon_save_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "coupon": coupon})
}

// GetCoupon returns one coupon
// @Summary Get a coupon
// @Tags coupons
// @Produce json
// @Param id path string true "Coupon ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /coupons/{id} [get]
// @Security BearerAuth
func (h *CouponHandler) GetCoupon(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id")
		return
	}

	coupon, err := h.coupons.GetCoupon(c.Request.Context(), id)
	if err != nil {
		h.respondCouponError(c, err, "coupon_fetch_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "coupon": coupon})
}

// DeleteCoupon removes a coupon and its scoping
// @Summary Delete a coupon
// @Tags coupons
// @Param id path string true "Coupon ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /coupons/{id} [delete]
// @Security BearerAuth
func (h *CouponHandler) DeleteCoupon(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id")
		return
	}

	if err := h.coupons.DeleteCoupon(c.Request.Context(), c.GetString("user_email"), id); err != nil {
		h.respondCouponError(c, err, "coupon_delete_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ValidateCoupon checks a code against the caller's cart
// @Summary Validate a coupon
// @Tags coupons
// @Accept json
// @Produce json
// @Param body body models.ValidateCouponRequest true "Code and cart"
// @Success 200 {object} models.CouponValidation
// @Router /coupons/validate [post]
// @Security BearerAuth
func (h *CouponHandler) ValidateCoupon(c *gin.Context) {
	var req models.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	validation, err := h.coupons.ValidateCoupon(c.Request.Context(), c.GetString("user_email"), req)
	if err != nil {
		h.respondCouponError(c, err, "coupon_validation_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "validation": validation})
}
