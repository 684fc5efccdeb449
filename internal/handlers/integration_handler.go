package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/clients"
	"look-marketplace/internal/clients/shopify"
	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

const maxUploadSize = 10 << 20

// TinyPreviewer samples a Tiny account
type TinyPreviewer interface {
	PreviewTiny(ctx context.Context, req services.PreviewRequest) (*services.PreviewResult, error)
}

// CatalogImporter fills the staging table
type CatalogImporter interface {
	ImportFromTiny(ctx context.Context, storeID int64, token string, pages int) (int, error)
	ImportFromSpreadsheet(ctx context.Context, storeID int64, filename string, file io.Reader) (*models.StagingUploadResult, error)
}

// ShopifyConnector is the part of the Shopify client exposed over HTTP
type ShopifyConnector interface {
	ExchangeToken(ctx context.Context, shop, code string) (*shopify.TokenResult, error)
	FetchStock(ctx context.Context, shop, token string) *clients.StockLookup
}

type TinyImportRequest struct {
	Token   string `json:"token"`
	StoreID int64  `json:"store_id"`
	Pages   int    `json:"pages"`
}

type ShopifyTokenRequest struct {
	Shop string `json:"shop"`
	Code string `json:"code"`
}

type ShopifyStockRequest struct {
	Shop  string `json:"shop"`
	Token string `json:"token"`
}

type IntegrationHandler struct {
	preview  TinyPreviewer
	importer CatalogImporter
	shopify  ShopifyConnector
	access   StoreAccess
	logger   *logrus.Entry
}

func NewIntegrationHandler(preview TinyPreviewer, importer CatalogImporter, shopifyClient ShopifyConnector, access StoreAccess, logger *logrus.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		preview:  preview,
		importer: importer,
		shopify:  shopifyClient,
		access:   access,
		logger:   logger.WithField("component", "integration_handler"),
	}
}

// PreviewTiny shows a sample of the Tiny catalog with resolved stock
// @Summary Preview a Tiny ERP account
// @Tags integrations
// @Accept json
// @Produce json
// @Param body body services.PreviewRequest true "Preview request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /integrations/tiny/preview [post]
// @Security BearerAuth
func (h *IntegrationHandler) PreviewTiny(c *gin.Context) {
	var req services.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.StoreID != nil && *req.StoreID > 0 && !authorizeStore(c, h.access, *req.StoreID) {
		return
	}

	result, err := h.preview.PreviewTiny(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrMissingToken) {
			respondError(c, http.StatusBadRequest, "missing_token")
			return
		}
		h.logger.WithError(err).Warn("tiny preview failed")
		respondError(c, http.StatusInternalServerError, "tiny_request_failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"store":    result.Store,
		"products": result.Products,
		"debug":    result.Debug,
	})
}

// ImportTiny stages the Tiny catalog of a store as drafts
// @Summary Import a Tiny ERP catalog into staging
// @Tags integrations
// @Accept json
// @Produce json
// @Param body body TinyImportRequest true "Import request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /integrations/tiny/import [post]
// @Security BearerAuth
func (h *IntegrationHandler) ImportTiny(c *gin.Context) {
	var req TinyImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Token == "" {
		respondError(c, http.StatusBadRequest, "missing_token")
		return
	}
	if req.StoreID <= 0 {
		respondError(c, http.StatusBadRequest, "missing_store_id")
		return
	}
	if !authorizeStore(c, h.access, req.StoreID) {
		return
	}

	staged, err := h.importer.ImportFromTiny(c.Request.Context(), req.StoreID, req.Token, req.Pages)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingToken):
			respondError(c, http.StatusBadRequest, "missing_token")
		case errors.Is(err, services.ErrMissingStoreID):
			respondError(c, http.StatusBadRequest, "missing_store_id")
		default:
			h.logger.WithError(err).WithField("store_id", req.StoreID).Error("tiny import failed")
			respondError(c, http.StatusInternalServerError, "import_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "staged": staged})
}

// UploadStaging stages the rows of a CSV or XLSX spreadsheet
// @Summary Upload a spreadsheet into staging
// @Tags integrations
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Param store_id formData int true "Store ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /integrations/staging/upload [post]
// @Security BearerAuth
func (h *IntegrationHandler) UploadStaging(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	storeID, ok := parseID(c.PostForm("store_id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "missing_store_id")
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing_file", err.Error())
		return
	}
	if !authorizeStore(c, h.access, storeID) {
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_file", err.Error())
		return
	}
	defer file.Close()

	result, err := h.importer.ImportFromSpreadsheet(c.Request.Context(), storeID, fileHeader.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedFormat):
			respondError(c, http.StatusBadRequest, "unsupported_format", err.Error())
		case errors.Is(err, services.ErrEmptyFile):
			respondError(c, http.StatusBadRequest, "empty_file")
		case errors.Is(err, services.ErrMissingStoreID):
			respondError(c, http.StatusBadRequest, "missing_store_id")
		default:
			h.logger.WithError(err).WithField("store_id", storeID).Error("spreadsheet import failed")
			respondError(c, http.StatusInternalServerError, "import_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "staged": result.Staged, "errors": result.Errors})
}

// GetStagingTemplate downloads the spreadsheet template
// @Summary Download the staging upload template
// @Tags integrations
// @Produce octet-stream
// @Param format query string false "csv or xlsx" default(xlsx)
// @Success 200 {file} file
// @Router /integrations/staging/template [get]
func (h *IntegrationHandler) GetStagingTemplate(c *gin.Context) {
	format := c.DefaultQuery("format", "xlsx")

	var buf bytes.Buffer
	if err := services.WriteStagingTemplate(&buf, format); err != nil {
		if errors.Is(err, services.ErrUnsupportedFormat) {
			respondError(c, http.StatusBadRequest, "invalid_format")
			return
		}
		respondError(c, http.StatusInternalServerError, "template_failed", err.Error())
		return
	}

	contentType := "text/csv"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=look_products_template.%s", format))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ShopifyToken exchanges an OAuth code for an access token
// @Summary Exchange a Shopify OAuth code
// @Tags integrations
// @Accept json
// @Produce json
// @Param body body ShopifyTokenRequest true "Shop and code"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /integrations/shopify/token [post]
// @Security BearerAuth
func (h *IntegrationHandler) ShopifyToken(c *gin.Context) {
	var req ShopifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	result, err := h.shopify.ExchangeToken(c.Request.Context(), req.Shop, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, shopify.ErrInvalidShop):
			respondError(c, http.StatusBadRequest, "invalid_shop")
		case errors.Is(err, shopify.ErrMissingCode):
			respondError(c, http.StatusBadRequest, "missing_code")
		case errors.Is(err, shopify.ErrNotConfigured):
			respondError(c, http.StatusServiceUnavailable, "shopify_not_configured")
		default:
			h.logger.WithError(err).WithField("shop", req.Shop).Warn("shopify token exchange failed")
			respondError(c, http.StatusInternalServerError, "token_exchange_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "access_token": result.AccessToken, "scope": result.Scope})
}

// ShopifyStock reads the inventory of every variant in the shop
// @Summary Fetch Shopify stock
// @Tags integrations
// @Accept json
// @Produce json
// @Param body body ShopifyStockRequest true "Shop and token"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /integrations/shopify/stock [post]
// @Security BearerAuth
func (h *IntegrationHandler) ShopifyStock(c *gin.Context) {
	var req ShopifyStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	shop, err := shopify.NormalizeShop(req.Shop)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_shop")
		return
	}
	if req.Token == "" {
		respondError(c, http.StatusBadRequest, "missing_token")
		return
	}

	lookup := h.shopify.FetchStock(c.Request.Context(), shop, req.Token)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"by_id":   lookup.ByID,
		"by_code": lookup.ByCode,
		"debug":   lookup.Debug,
	})
}
