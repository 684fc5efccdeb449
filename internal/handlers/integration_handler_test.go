package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"look-marketplace/internal/clients"
	"look-marketplace/internal/clients/shopify"
	"look-marketplace/internal/gateway"
	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

type MockTinyPreviewer struct {
	mock.Mock
}

func (m *MockTinyPreviewer) PreviewTiny(ctx context.Context, req services.PreviewRequest) (*services.PreviewResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PreviewResult), args.Error(1)
}

type MockCatalogImporter struct {
	mock.Mock
}

func (m *MockCatalogImporter) ImportFromTiny(ctx context.Context, storeID int64, token string, pages int) (int, error) {
	args := m.Called(ctx, storeID, token, pages)
	return args.Int(0), args.Error(1)
}

func (m *MockCatalogImporter) ImportFromSpreadsheet(ctx context.Context, storeID int64, filename string, file io.Reader) (*models.StagingUploadResult, error) {
	args := m.Called(ctx, storeID, filename, file)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StagingUploadResult), args.Error(1)
}

type MockShopifyConnector struct {
	mock.Mock
}

func (m *MockShopifyConnector) ExchangeToken(ctx context.Context, shop, code string) (*shopify.TokenResult, error) {
	args := m.Called(ctx, shop, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shopify.TokenResult), args.Error(1)
}

func (m *MockShopifyConnector) FetchStock(ctx context.Context, shop, token string) *clients.StockLookup {
	args := m.Called(ctx, shop, token)
	return args.Get(0).(*clients.StockLookup)
}

type MockIntentCreator struct {
	mock.Mock
}

func (m *MockIntentCreator) CreatePaymentIntent(ctx context.Context, identity string, req models.PaymentIntentRequest) (*models.PaymentIntentResponse, error) {
	args := m.Called(ctx, identity, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntentResponse), args.Error(1)
}

type integrationMocks struct {
	preview  *MockTinyPreviewer
	importer *MockCatalogImporter
	shopify  *MockShopifyConnector
}

func integrationRouter() (*integrationMocks, http.Handler) {
	m := &integrationMocks{
		preview:  new(MockTinyPreviewer),
		importer: new(MockCatalogImporter),
		shopify:  new(MockShopifyConnector),
	}
	h := NewIntegrationHandler(m.preview, m.importer, m.shopify, nil, testLogger())
	router := setupTestRouter()
	api := router.Group("/api/integrations")
	api.POST("/tiny/preview", h.PreviewTiny)
	api.POST("/tiny/import", h.ImportTiny)
	api.POST("/staging/upload", h.UploadStaging)
	api.GET("/staging/template", h.GetStagingTemplate)
	api.POST("/shopify/token", h.ShopifyToken)
	api.POST("/shopify/stock", h.ShopifyStock)
	return m, router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestIntegrationHandler_PreviewTiny(t *testing.T) {
	m, router := integrationRouter()
	stock := 4
	m.preview.On("PreviewTiny", mock.Anything, services.PreviewRequest{Token: "tok", StoreName: "Loja"}).
		Return(&services.PreviewResult{
			Store:    "Loja",
			Products: []services.PreviewProduct{{ID: "1", Name: "Vestido", Stock: &stock, StockSource: "deposits"}},
			Debug:    []clients.DebugEntry{},
		}, nil)
	m.preview.On("PreviewTiny", mock.Anything, services.PreviewRequest{}).Return(nil, services.ErrMissingToken)

	w := serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/preview", map[string]string{"token": "tok", "store_name": "Loja"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stock_source":"deposits"`)

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/preview", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_token", decodeError(t, w).Error)
}

func TestIntegrationHandler_PreviewTiny_ChecksStoreAccess(t *testing.T) {
	preview := new(MockTinyPreviewer)
	access := new(MockStoreAccess)
	h := NewIntegrationHandler(preview, new(MockCatalogImporter), new(MockShopifyConnector), access, testLogger())
	router := setupTestRouter()
	router.POST("/api/integrations/tiny/preview", h.PreviewTiny)

	own, foreign := int64(4), int64(5)
	access.On("CanManageStore", mock.Anything, "dona@loja.com", own).Return(true, nil)
	access.On("CanManageStore", mock.Anything, "dona@loja.com", foreign).Return(false, nil)
	preview.On("PreviewTiny", mock.Anything, services.PreviewRequest{Token: "tok", StoreID: &own}).
		Return(&services.PreviewResult{Store: "Ateliê"}, nil)

	w := serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/preview", map[string]interface{}{"token": "tok", "store_id": own}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/preview", map[string]interface{}{"token": "tok", "store_id": foreign}))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden_store", decodeError(t, w).Error)
	preview.AssertNumberOfCalls(t, "PreviewTiny", 1)
}

func TestIntegrationHandler_ImportTiny(t *testing.T) {
	m, router := integrationRouter()
	m.importer.On("ImportFromTiny", mock.Anything, int64(2), "tok", 3).Return(12, nil)
	m.importer.On("ImportFromTiny", mock.Anything, int64(9), "tok", 0).Return(0, errors.New("tiny unavailable"))

	w := serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/import", TinyImportRequest{Token: "tok", StoreID: 2, Pages: 3}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"staged":12}`, w.Body.String())

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/import", TinyImportRequest{Token: "tok", StoreID: 9}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "import_failed", resp.Error)
	assert.Contains(t, resp.Detail, "tiny unavailable")

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/tiny/import", TinyImportRequest{StoreID: 9}))
	assert.Equal(t, "missing_token", decodeError(t, w).Error)
}

func TestIntegrationHandler_UploadStaging(t *testing.T) {
	m, router := integrationRouter()
	m.importer.On("ImportFromSpreadsheet", mock.Anything, int64(4), "produtos.csv", mock.Anything).
		Return(&models.StagingUploadResult{Staged: 1, Errors: []models.ImportRowError{{Row: 3, Code: "REQUIRED", Message: "Product name is required"}}}, nil)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("store_id", "4"))
	part, err := writer.CreateFormFile("file", "produtos.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("name,price\nVestido,10\n,5\n"))
	require.NoError(t, writer.Close())

	req, _ := http.NewRequest(http.MethodPost, "/api/integrations/staging/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := serve(router, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK     bool                    `json:"ok"`
		Staged int                     `json:"staged"`
		Errors []models.ImportRowError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Staged)
	assert.Len(t, resp.Errors, 1)
}

func TestIntegrationHandler_GetStagingTemplate(t *testing.T) {
	_, router := integrationRouter()

	req, _ := http.NewRequest(http.MethodGet, "/api/integrations/staging/template?format=csv", nil)
	w := serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "name,"))

	req, _ = http.NewRequest(http.MethodGet, "/api/integrations/staging/template?format=pdf", nil)
	w = serve(router, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntegrationHandler_Shopify(t *testing.T) {
	m, router := integrationRouter()
	m.shopify.On("ExchangeToken", mock.Anything, "loja.myshopify.com", "abc").
		Return(&shopify.TokenResult{AccessToken: "shpat_1", Scope: "read_products"}, nil)
	m.shopify.On("ExchangeToken", mock.Anything, "evil.com", "abc").
		Return(nil, shopify.ErrInvalidShop)
	lookup := clients.NewStockLookup()
	lookup.Set(clients.ProductRef{ID: "111", Code: "SKU-P"}, 2, "inventory_quantity")
	m.shopify.On("FetchStock", mock.Anything, "loja.myshopify.com", "shpat_1").Return(lookup)

	w := serve(router, jsonRequest(http.MethodPost, "/api/integrations/shopify/token", ShopifyTokenRequest{Shop: "loja.myshopify.com", Code: "abc"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"access_token":"shpat_1","scope":"read_products"}`, w.Body.String())

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/shopify/token", ShopifyTokenRequest{Shop: "evil.com", Code: "abc"}))
	assert.Equal(t, "invalid_shop", decodeError(t, w).Error)

	w = serve(router, jsonRequest(http.MethodPost, "/api/integrations/shopify/stock", ShopifyStockRequest{Shop: "Loja.myshopify.com", Token: "shpat_1"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"SKU-P":2`)
}

func TestPaymentHandler_CreatePaymentIntent(t *testing.T) {
	payments := new(MockIntentCreator)
	router := setupTestRouter()
	router.POST("/api/payments/intent", NewPaymentHandler(payments, testLogger()).CreatePaymentIntent)

	payments.On("CreatePaymentIntent", mock.Anything, "dona@loja.com", mock.MatchedBy(func(r models.PaymentIntentRequest) bool {
		return r.OrderRef == "ord-1"
	})).Return(&models.PaymentIntentResponse{OK: true, IntentID: "pi_1", Amount: decimal.NewFromInt(90)}, nil)
	payments.On("CreatePaymentIntent", mock.Anything, "dona@loja.com", mock.MatchedBy(func(r models.PaymentIntentRequest) bool {
		return r.OrderRef == "ord-2"
	})).Return(nil, &gateway.GatewayError{Code: "card_declined", Message: "Your card was declined."})

	w := serve(router, jsonRequest(http.MethodPost, "/api/payments/intent", map[string]interface{}{"amount": 100, "order_ref": "ord-1"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"intent_id":"pi_1"`)

	w = serve(router, jsonRequest(http.MethodPost, "/api/payments/intent", map[string]interface{}{"amount": 100, "order_ref": "ord-2"}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Your card was declined.", decodeError(t, w).Detail)

	w = serve(router, jsonRequest(http.MethodPost, "/api/payments/intent", map[string]interface{}{"amount": 100}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	payments.On("CreatePaymentIntent", mock.Anything, "dona@loja.com", mock.MatchedBy(func(r models.PaymentIntentRequest) bool {
		return r.OrderRef == "ord-3"
	})).Return(nil, services.ErrNothingToCharge)
	w = serve(router, jsonRequest(http.MethodPost, "/api/payments/intent", map[string]interface{}{"amount": 50, "order_ref": "ord-3", "coupon_code": "FREE"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "nothing_to_charge", decodeError(t, w).Error)
}
