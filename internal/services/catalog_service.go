package services

import (
	"context"

	"look-marketplace/internal/cache"
	"look-marketplace/internal/models"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
)

// ProductLister reads pages of the live catalog
type ProductLister interface {
	ListActive(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error)
}

// CatalogService serves the public catalog through its own page cache
type CatalogService struct {
	products ProductLister
	cache    *cache.CatalogCache
}

// NewCatalogService creates a catalog service. pageCache may be nil to read
// through to the database every time.
func NewCatalogService(products ProductLister, pageCache *cache.CatalogCache) *CatalogService {
	return &CatalogService{products: products, cache: pageCache}
}

// ListProducts returns one page of active products
func (s *CatalogService) ListProducts(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit <= 0 {
		params.Limit = defaultPageSize
	}
	if params.Limit > maxPageSize {
		params.Limit = maxPageSize
	}

	if s.cache == nil {
		return s.products.ListActive(ctx, params)
	}
	return s.cache.GetOrLoad(ctx, params, s.products.ListActive)
}

// InvalidateBrand drops cached pages after a brand's catalog changed
func (s *CatalogService) InvalidateBrand(ctx context.Context, brandID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateBrand(ctx, brandID)
}
