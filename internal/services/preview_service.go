package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/clients"
	"look-marketplace/internal/models"
)

const defaultPreviewSample = 20

// BrandReader resolves a store id to its brand
type BrandReader interface {
	GetBrand(ctx context.Context, id int64) (*models.Brand, error)
}

// PreviewRequest asks for a sample of a Tiny account before importing it
type PreviewRequest struct {
	Token     string `json:"token"`
	StoreName string `json:"store_name"`
	StoreID   *int64 `json:"store_id"`
}

// PreviewProduct is a Tiny product with its resolved stock
type PreviewProduct struct {
	ID          string          `json:"id"`
	Code        string          `json:"code,omitempty"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status,omitempty"`
	Stock       *int            `json:"stock"`
	StockSource string          `json:"stock_source"`
}

// PreviewResult is returned by PreviewTiny
type PreviewResult struct {
	Store    string               `json:"store"`
	Products []PreviewProduct     `json:"products"`
	Debug    []clients.DebugEntry `json:"debug"`
}

// PreviewService shows what an import from Tiny would bring in
type PreviewService struct {
	tiny       TinyCatalog
	brands     BrandReader
	sampleSize int
	logger     *logrus.Entry
}

// NewPreviewService creates a preview service. brands may be nil.
func NewPreviewService(tinyCatalog TinyCatalog, brands BrandReader, sampleSize int, logger *logrus.Logger) *PreviewService {
	if sampleSize <= 0 {
		sampleSize = defaultPreviewSample
	}
	return &PreviewService{
		tiny:       tinyCatalog,
		brands:     brands,
		sampleSize: sampleSize,
		logger:     logger.WithField("component", "preview_service"),
	}
}

// PreviewTiny lists the first products of the account together with their
// stock and where it came from
func (s *PreviewService) PreviewTiny(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, ErrMissingToken
	}

	page, err := s.tiny.SearchProducts(ctx, token, 1)
	if err != nil {
		return nil, err
	}
	products := page.Products
	if len(products) > s.sampleSize {
		products = products[:s.sampleSize]
	}

	refs := make([]clients.ProductRef, 0, len(products))
	for _, p := range products {
		refs = append(refs, clients.ProductRef{ID: p.ID, Code: p.Code})
	}
	lookup := s.tiny.FetchStock(ctx, token, refs)

	result := &PreviewResult{
		Store:    s.storeName(ctx, req),
		Products: make([]PreviewProduct, 0, len(products)),
		Debug:    lookup.Debug,
	}
	if result.Debug == nil {
		result.Debug = []clients.DebugEntry{}
	}
	for _, p := range products {
		item := PreviewProduct{
			ID:          p.ID,
			Code:        p.Code,
			Name:        p.Name,
			Price:       tinyPrice(p),
			Status:      p.Status,
			StockSource: "none",
		}
		if stock, ok := lookup.ByID[p.ID]; ok {
			item.Stock = &stock
		}
		if source, ok := lookup.SourceByID[p.ID]; ok && source != "" {
			item.StockSource = source
		}
		result.Products = append(result.Products, item)
	}

	s.logger.WithFields(logrus.Fields{
		"products": len(result.Products),
		"debug":    len(result.Debug),
	}).Debug("tiny preview built")
	return result, nil
}

func (s *PreviewService) storeName(ctx context.Context, req PreviewRequest) string {
	if req.StoreID != nil && *req.StoreID > 0 && s.brands != nil {
		brand, err := s.brands.GetBrand(ctx, *req.StoreID)
		if err == nil && brand != nil {
			return brand.Name
		}
		if err != nil {
			s.logger.WithError(err).WithField("store_id", *req.StoreID).Warn("brand lookup failed")
		}
	}
	return strings.TrimSpace(req.StoreName)
}
