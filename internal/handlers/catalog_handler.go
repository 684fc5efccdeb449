package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
)

// ProductCatalog serves pages of the live catalog
type ProductCatalog interface {
	ListProducts(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error)
}

type CatalogHandler struct {
	catalog ProductCatalog
	logger  *logrus.Entry
}

func NewCatalogHandler(catalog ProductCatalog, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger.WithField("component", "catalog_handler"),
	}
}

// ListProducts returns a page of active products
// @Summary List products
// @Tags products
// @Produce json
// @Param brand_id query int false "Brand ID"
// @Param category query string false "Category"
// @Param page query int false "Page" default(1)
// @Param limit query int false "Page size" default(24)
// @Success 200 {object} map[string]interface{}
// @Router /products [get]
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	params := models.ProductListParams{Category: c.Query("category")}
	if raw := c.Query("brand_id"); raw != "" {
		brandID, ok := parseID(raw)
		if !ok {
			respondError(c, http.StatusBadRequest, "invalid_brand_id")
			return
		}
		params.BrandID = &brandID
	}
	params.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	params.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))

	page, err := h.catalog.ListProducts(c.Request.Context(), params)
	if err != nil {
		h.logger.WithError(err).Error("failed to list products")
		respondError(c, http.StatusInternalServerError, "catalog_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"items":    page.Items,
		"page":     page.Page,
		"limit":    page.Limit,
		"has_more": page.HasMore,
	})
}
