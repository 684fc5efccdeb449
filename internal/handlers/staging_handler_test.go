package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"look-marketplace/internal/models"
	"look-marketplace/internal/services"
)

type MockStagingManager struct {
	mock.Mock
}

func (m *MockStagingManager) GetGrouped(ctx context.Context, storeID int64) ([]models.GroupedProduct, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GroupedProduct), args.Error(1)
}

func (m *MockStagingManager) Commit(ctx context.Context, storeID int64, items []models.CommitItem) (*services.CommitResult, error) {
	args := m.Called(ctx, storeID, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CommitResult), args.Error(1)
}

type MockStoreAccess struct {
	mock.Mock
}

func (m *MockStoreAccess) CanManageStore(ctx context.Context, email string, storeID int64) (bool, error) {
	args := m.Called(ctx, email, storeID)
	return args.Bool(0), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Set("user_email", "dona@loja.com")
		c.Next()
	})
	return router
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func stagingRouter(staging *MockStagingManager, access *MockStoreAccess) *gin.Engine {
	router := setupTestRouter()
	var storeAccess StoreAccess
	if access != nil {
		storeAccess = access
	}
	h := NewStagingHandler(staging, storeAccess, testLogger())
	router.GET("/api/integrations/tiny/staging", h.GetStaging)
	router.POST("/api/integrations/tiny/staging", h.CommitStaging)
	return router
}

func TestStagingHandler_GetStaging(t *testing.T) {
	staging := new(MockStagingManager)
	access := new(MockStoreAccess)
	router := stagingRouter(staging, access)

	access.On("CanManageStore", mock.Anything, "dona@loja.com", int64(5)).Return(true, nil)
	staging.On("GetGrouped", mock.Anything, int64(5)).Return([]models.GroupedProduct{
		{Key: "vestido azul", Name: "Vestido Azul", Stock: 5, StagingIDs: []int64{10, 11}},
	}, nil)

	w := performJSON(router, http.MethodGet, "/api/integrations/tiny/staging?store_id=5", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK    bool                    `json:"ok"`
		Items []models.GroupedProduct `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, []int64{10, 11}, resp.Items[0].StagingIDs)
}

func TestStagingHandler_GetStaging_Errors(t *testing.T) {
	staging := new(MockStagingManager)
	access := new(MockStoreAccess)
	router := stagingRouter(staging, access)

	w := performJSON(router, http.MethodGet, "/api/integrations/tiny/staging", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_store_id", decodeError(t, w).Error)

	access.On("CanManageStore", mock.Anything, "dona@loja.com", int64(6)).Return(false, nil)
	w = performJSON(router, http.MethodGet, "/api/integrations/tiny/staging?store_id=6", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden_store", decodeError(t, w).Error)
	staging.AssertNotCalled(t, "GetGrouped", mock.Anything, mock.Anything)
}

func TestStagingHandler_CommitStaging_Validation(t *testing.T) {
	router := stagingRouter(new(MockStagingManager), nil)
	item := models.CommitItem{Name: "Vestido Azul", StagingIDs: []int64{10}}

	tests := []struct {
		name string
		body models.StagingCommitRequest
		code string
	}{
		{"wrong action", models.StagingCommitRequest{Action: "publish", StoreID: 1, Items: []models.CommitItem{item}}, "invalid_action"},
		{"no store", models.StagingCommitRequest{Action: commitAction, Items: []models.CommitItem{item}}, "missing_store_id"},
		{"no items", models.StagingCommitRequest{Action: commitAction, StoreID: 1}, "missing_items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performJSON(router, http.MethodPost, "/api/integrations/tiny/staging", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestStagingHandler_CommitStaging(t *testing.T) {
	items := []models.CommitItem{{Name: "Vestido Azul", StagingIDs: []int64{10, 11}}}
	body := models.StagingCommitRequest{Action: commitAction, StoreID: 3, Items: items}

	tests := []struct {
		name       string
		result     *services.CommitResult
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", &services.CommitResult{Imported: 1, ProductIDs: []int64{100}}, nil, http.StatusOK, ""},
		{"conflict", nil, fmt.Errorf("commit: %w", services.ErrStagingConflict), http.StatusConflict, "staging_conflict"},
		{"invalid item", nil, fmt.Errorf("%w: item 0 has no name", services.ErrInvalidItem), http.StatusBadRequest, "invalid_item"},
		{"database down", nil, errors.New("connection refused"), http.StatusInternalServerError, "commit_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			staging := new(MockStagingManager)
			router := stagingRouter(staging, nil)
			staging.On("Commit", mock.Anything, int64(3), mock.MatchedBy(func(got []models.CommitItem) bool {
				return len(got) == 1 && got[0].Name == "Vestido Azul" && len(got[0].StagingIDs) == 2
			})).Return(tt.result, tt.err)

			w := performJSON(router, http.MethodPost, "/api/integrations/tiny/staging", body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode == "" {
				var resp map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, true, resp["ok"])
				assert.Equal(t, float64(1), resp["imported"])
				return
			}
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "connection refused", resp.Detail)
			}
		})
	}
}
