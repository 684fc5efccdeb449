package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

const commitAction = "commit_to_products"

// StagingManager groups staging drafts and commits them into products
type StagingManager interface {
	GetGrouped(ctx context.Context, storeID int64) ([]models.GroupedProduct, error)
	Commit(ctx context.Context, storeID int64, items []models.CommitItem) (*services.CommitResult, error)
}

type StagingHandler struct {
	staging StagingManager
	access  StoreAccess
	logger  *logrus.Entry
}

func NewStagingHandler(staging StagingManager, access StoreAccess, logger *logrus.Logger) *StagingHandler {
	return &StagingHandler{
		staging: staging,
		access:  access,
		logger:  logger.WithField("component", "staging_handler"),
	}
}

// GetStaging lists the store's drafts grouped into products
// @Summary List grouped staging products
// @Tags staging
// @Produce json
// @Param store_id query int true "Store ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /integrations/tiny/staging [get]
// @Security BearerAuth
func (h *StagingHandler) GetStaging(c *gin.Context) {
	storeID, ok := parseID(c.Query("store_id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "missing_store_id")
		return
	}
	if !authorizeStore(c, h.access, storeID) {
		return
	}

	items, err := h.staging.GetGrouped(c.Request.Context(), storeID)
	if err != nil {
		h.logger.WithError(err).WithField("store_id", storeID).Error("failed to load staging rows")
		respondError(c, http.StatusInternalServerError, "staging_fetch_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

// CommitStaging promotes edited grouped products into the live catalog
// @Summary Commit staging products
// @Tags staging
// @Accept json
// @Produce json
// @Param body body models.StagingCommitRequest true "Commit request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /integrations/tiny/staging [post]
// @Security BearerAuth
func (h *StagingHandler) CommitStaging(c *gin.Context) {
	var req models.StagingCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Action != commitAction {
		respondError(c, http.StatusBadRequest, "invalid_action")
		return
	}
	if req.StoreID <= 0 {
		respondError(c, http.StatusBadRequest, "missing_store_id")
		return
	}
	if len(req.Items) == 0 {
		respondError(c, http.StatusBadRequest, "missing_items")
		return
	}
	if !authorizeStore(c, h.access, req.StoreID) {
		return
	}

	result, err := h.staging.Commit(c.Request.Context(), req.StoreID, req.Items)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingStoreID):
			respondError(c, http.StatusBadRequest, "missing_store_id")
		case errors.Is(err, services.ErrMissingItems):
			respondError(c, http.StatusBadRequest, "missing_items")
		case errors.Is(err, services.ErrInvalidItem):
			respondError(c, http.StatusBadRequest, "invalid_item", err.Error())
		case errors.Is(err, services.ErrStagingConflict):
			respondError(c, http.StatusConflict, "staging_conflict", err.Error())
		default:
			h.logger.WithError(err).WithField("store_id", req.StoreID).Error("staging commit failed")
			respondError(c, http.StatusInternalServerError, "commit_failed", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"imported":    result.Imported,
		"product_ids": result.ProductIDs,
	})
}
