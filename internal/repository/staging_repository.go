package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"look-marketplace/internal/models"
)

const insertBatchSize = 100

// StagingRepositoryInterface is the persistence surface of the staging flow
type StagingRepositoryInterface interface {
	ListDraftRows(ctx context.Context, storeID int64) ([]models.StagingRow, error)
	CreateRows(ctx context.Context, rows []models.StagingRow) error
	CreateProducts(ctx context.Context, products []models.Product) error
	MarkImported(ctx context.Context, storeID int64, ids []int64) (int64, error)
	EnqueueEvent(ctx context.Context, subject string, payload interface{}) error
	WithTransaction(ctx context.Context, fn func(txRepo StagingRepositoryInterface) error) error
}

// StagingRepository handles staging rows and their promotion into products
type StagingRepository struct {
	db *gorm.DB
}

// NewStagingRepository creates a new StagingRepository
func NewStagingRepository(db *gorm.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

// ListDraftRows returns a store's rows still awaiting commit, oldest first
func (r *StagingRepository) ListDraftRows(ctx context.Context, storeID int64) ([]models.StagingRow, error) {
	var rows []models.StagingRow
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND status = ?", storeID, models.StagingDraft).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// draftRefreshColumns are overwritten when a draft with the same external id
// is imported again
var draftRefreshColumns = []string{
	"raw_name", "name", "raw_price", "price", "raw_stock", "stock",
	"sizes", "photo_urls", "image_url", "category", "gender", "subcategory",
	"raw_payload", "updated_at",
}

// CreateRows inserts new draft rows. A row whose external id already has a
// draft in the same store replaces that draft's values instead of adding a
// second row.
func (r *StagingRepository) CreateRows(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "store_id"}, {Name: "external_id"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "status = 'draft'"}}},
		DoUpdates:   clause.AssignmentColumns(draftRefreshColumns),
	}).CreateInBatches(&rows, insertBatchSize).Error
}

// CreateProducts bulk-inserts products; IDs are populated on success
func (r *StagingRepository) CreateProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	return translateError(r.db.WithContext(ctx).CreateInBatches(&products, insertBatchSize).Error)
}

// MarkImported moves draft rows of a store to imported and reports how many
// rows actually transitioned. Rows already imported or owned by another store
// are left untouched and not counted.
func (r *StagingRepository) MarkImported(ctx context.Context, storeID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.StagingRow{}).
		Where("id IN ? AND store_id = ? AND status = ?", ids, storeID, models.StagingDraft).
		Updates(map[string]interface{}{
			"status":      models.StagingImported,
			"imported_at": now,
			"updated_at":  now,
		})
	return result.RowsAffected, result.Error
}

// EnqueueEvent stores an outbox event
func (r *StagingRepository) EnqueueEvent(ctx context.Context, subject string, payload interface{}) error {
	return enqueueEvent(ctx, r.db, subject, payload)
}

// WithTransaction runs fn against a repository bound to one transaction
func (r *StagingRepository) WithTransaction(ctx context.Context, fn func(txRepo StagingRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&StagingRepository{db: tx})
	})
}
