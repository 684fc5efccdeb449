package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"look-marketplace/internal/models"
)

// CouponRepositoryInterface is the persistence surface of coupon management
type CouponRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	List(ctx context.Context) ([]models.Coupon, error)
	Create(ctx context.Context, coupon *models.Coupon) error
	Update(ctx context.Context, coupon *models.Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	ReplaceApplicability(ctx context.Context, couponID uuid.UUID, rows []models.CouponApplicability) error
	CountRedemptions(ctx context.Context, couponID uuid.UUID, identity string) (int64, error)
	HasAnyRedemption(ctx context.Context, identity string) (bool, error)
	RecordRedemption(ctx context.Context, redemption *models.CouponRedemption) error
	EnqueueEvent(ctx context.Context, subject string, payload interface{}) error
	WithTransaction(ctx context.Context, fn func(txRepo CouponRepositoryInterface) error) error
}

// CouponRepository handles coupon database operations
type CouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) preloadApplicabilities(db *gorm.DB) *gorm.DB {
	return db.Preload("Applicabilities", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC, id ASC")
	})
}

// GetByID retrieves a coupon with its applicability rows
func (r *CouponRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.preloadApplicabilities(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&coupon).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &coupon, nil
}

// LockByID loads the coupon row FOR UPDATE. Call it inside WithTransaction so
// redemptions of one coupon run one at a time.
func (r *CouponRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&coupon).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &coupon, nil
}

// GetByCode looks a coupon up by code, ignoring case
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.preloadApplicabilities(r.db.WithContext(ctx)).
		Where("UPPER(code) = ?", models.NormalizeCouponCode(code)).
		First(&coupon).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &coupon, nil
}

// List returns every coupon, newest first
func (r *CouponRepository) List(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := r.preloadApplicabilities(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Find(&coupons).Error
	return coupons, err
}

// Create inserts a coupon without touching its applicability rows
func (r *CouponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Create(coupon).Error)
}

// Update saves every column of an existing coupon
func (r *CouponRepository) Update(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	return translateError(r.db.WithContext(ctx).Omit(clause.Associations).Save(coupon).Error)
}

// Delete removes a coupon; applicability rows go with it through the cascade
func (r *CouponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Coupon{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceApplicability deletes every scoping row of the coupon and inserts rows.
// An empty rows slice leaves the coupon unscoped.
func (r *CouponRepository) ReplaceApplicability(ctx context.Context, couponID uuid.UUID, rows []models.CouponApplicability) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("coupon_id = ?", couponID).Delete(&models.CouponApplicability{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return translateError(db.Omit("Brand", "Product").Create(&rows).Error)
}

// CountRedemptions counts how often identity used the coupon
func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID uuid.UUID, identity string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CouponRedemption{}).
		Where("coupon_id = ? AND identity = ?", couponID, identity).
		Count(&count).Error
	return count, err
}

// HasAnyRedemption reports whether identity ever redeemed any coupon
func (r *CouponRepository) HasAnyRedemption(ctx context.Context, identity string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CouponRedemption{}).
		Where("identity = ?", identity).
		Count(&count).Error
	return count > 0, err
}

// RecordRedemption bumps used_count and stores the redemption in one
// transaction, refusing when the coupon already reached max_uses.
func (r *CouponRepository) RecordRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Coupon{}).
			Where("id = ? AND (max_uses IS NULL OR used_count < max_uses)", redemption.CouponID).
			UpdateColumn("used_count", gorm.Expr("used_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUsageExhausted
		}
		return translateError(tx.Create(redemption).Error)
	})
}

// EnqueueEvent stores an outbox event
func (r *CouponRepository) EnqueueEvent(ctx context.Context, subject string, payload interface{}) error {
	return enqueueEvent(ctx, r.db, subject, payload)
}

// WithTransaction runs fn against a repository bound to one transaction
func (r *CouponRepository) WithTransaction(ctx context.Context, fn func(txRepo CouponRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CouponRepository{db: tx})
	})
}
