package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"look-marketplace/internal/models"
)

// OutboxRepository reads and settles pending outbox events
type OutboxRepository struct {
	db          *gorm.DB
	maxAttempts int
}

// NewOutboxRepository creates a new outbox repository. Events that failed
// maxAttempts times are no longer claimed.
func NewOutboxRepository(db *gorm.DB, maxAttempts int) *OutboxRepository {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxRepository{db: db, maxAttempts: maxAttempts}
}

// ProcessPending locks up to limit unpublished events, hands each to publish
// and records the outcome. Rows locked by another relay are skipped.
func (r *OutboxRepository) ProcessPending(ctx context.Context, limit int, publish func(models.OutboxEvent) error) (int, error) {
	published := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []models.OutboxEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL AND attempts < ?", r.maxAttempts).
			Order("created_at ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil {
			return err
		}

		for _, event := range events {
			if pubErr := publish(event); pubErr != nil {
				err := tx.Model(&models.OutboxEvent{}).Where("id = ?", event.ID).
					Updates(map[string]interface{}{
						"attempts":   gorm.Expr("attempts + 1"),
						"last_error": pubErr.Error(),
					}).Error
				if err != nil {
					return err
				}
				continue
			}
			err := tx.Model(&models.OutboxEvent{}).Where("id = ?", event.ID).
				Updates(map[string]interface{}{
					"attempts":     gorm.Expr("attempts + 1"),
					"published_at": time.Now(),
				}).Error
			if err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
