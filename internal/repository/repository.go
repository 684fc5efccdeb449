package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"look-marketplace/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStagingConflict  = errors.New("staging rows already imported or not owned by store")
	ErrDuplicateCode    = errors.New("coupon code already exists")
	ErrInvalidReference = errors.New("referenced brand or product does not exist")
	ErrUsageExhausted   = errors.New("coupon usage limit reached")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translateError maps postgres constraint violations onto repository errors
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicateCode, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
		}
	}
	return err
}

// enqueueEvent writes an outbox row on db, which is normally a transaction
func enqueueEvent(ctx context.Context, db *gorm.DB, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", subject, err)
	}
	event := &models.OutboxEvent{
		Subject: subject,
		Payload: datatypes.JSON(data),
	}
	return db.WithContext(ctx).Create(event).Error
}
