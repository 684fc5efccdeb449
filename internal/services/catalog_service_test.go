package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"look-marketplace/internal/cache"
	"look-marketplace/internal/models"
)

type MockProductLister struct {
	mock.Mock
}

func (m *MockProductLister) ListActive(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProductPage), args.Error(1)
}

func TestCatalogService_ListProducts_NormalizesPaging(t *testing.T) {
	lister := new(MockProductLister)
	svc := NewCatalogService(lister, nil)
	ctx := context.Background()

	lister.On("ListActive", ctx, models.ProductListParams{Page: 1, Limit: 24}).
		Return(&models.ProductPage{Page: 1, Limit: 24}, nil)
	lister.On("ListActive", ctx, models.ProductListParams{Page: 3, Limit: 100}).
		Return(&models.ProductPage{Page: 3, Limit: 100}, nil)

	_, err := svc.ListProducts(ctx, models.ProductListParams{Page: -2})
	require.NoError(t, err)
	_, err = svc.ListProducts(ctx, models.ProductListParams{Page: 3, Limit: 5000})
	require.NoError(t, err)

	lister.AssertExpectations(t)
}

func TestCatalogService_CachesUntilCommitInvalidates(t *testing.T) {
	lister := new(MockProductLister)
	svc := NewCatalogService(lister, cache.NewCatalogCache(nil, time.Minute))
	ctx := context.Background()
	brand := int64(7)
	params := models.ProductListParams{BrandID: &brand, Page: 1, Limit: 24}

	lister.On("ListActive", ctx, params).
		Return(&models.ProductPage{Items: []models.Product{{ID: 1, BrandID: 7}}, Page: 1, Limit: 24}, nil)

	for i := 0; i < 3; i++ {
		page, err := svc.ListProducts(ctx, params)
		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
	}
	lister.AssertNumberOfCalls(t, "ListActive", 1)

	require.NoError(t, svc.InvalidateBrand(ctx, 7))
	_, err := svc.ListProducts(ctx, params)
	require.NoError(t, err)
	lister.AssertNumberOfCalls(t, "ListActive", 2)
}
