package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"look-marketplace/internal/models"
)

// ProductRepository serves the live catalog and the brands that own it
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// ListActive returns one page of active products. It fetches one extra row to
// tell whether another page exists.
func (r *ProductRepository) ListActive(ctx context.Context, params models.ProductListParams) (*models.ProductPage, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("active = ?", true)
	if params.BrandID != nil {
		query = query.Where("brand_id = ?", *params.BrandID)
	}
	if params.Category != "" {
		query = query.Where("LOWER(category) = ?", strings.ToLower(params.Category))
	}

	var products []models.Product
	err := query.
		Order("created_at DESC, id DESC").
		Offset((params.Page - 1) * params.Limit).
		Limit(params.Limit + 1).
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	page := &models.ProductPage{Page: params.Page, Limit: params.Limit}
	if len(products) > params.Limit {
		page.HasMore = true
		products = products[:params.Limit]
	}
	page.Items = products
	return page, nil
}

// BrandIDsForProducts maps product ids to their owning brand
func (r *ProductRepository) BrandIDsForProducts(ctx context.Context, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID      int64
		BrandID int64
	}
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Select("id, brand_id").
		Where("id IN ?", ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.BrandID
	}
	return out, nil
}

// GetBrand retrieves a brand by id
func (r *ProductRepository) GetBrand(ctx context.Context, id int64) (*models.Brand, error) {
	var brand models.Brand
	if err := r.db.WithContext(ctx).First(&brand, id).Error; err != nil {
		return nil, translateError(err)
	}
	return &brand, nil
}

// IsEmailAllowListed checks the admin allow-list
func (r *ProductRepository) IsEmailAllowListed(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AdminAllowlist{}).
		Where("LOWER(email) = ?", email).
		Count(&count).Error
	return count > 0, err
}

// CanManageStore allows the brand owner and allow-listed admins
func (r *ProductRepository) CanManageStore(ctx context.Context, email string, storeID int64) (bool, error) {
	allowed, err := r.IsEmailAllowListed(ctx, email)
	if err != nil || allowed {
		return allowed, err
	}
	var count int64
	err = r.db.WithContext(ctx).Model(&models.Brand{}).
		Where("id = ? AND LOWER(owner_email) = ?", storeID, strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}
