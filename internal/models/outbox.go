package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event subjects published through the outbox
const (
	SubjectStagingCommitted = "look.staging.committed"
	SubjectCouponSaved      = "look.coupon.saved"
	SubjectCouponDeleted    = "look.coupon.deleted"
)

// OutboxEvent is a domain event stored in the same transaction as the change it
// announces and relayed to NATS afterwards.
type OutboxEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Subject     string         `gorm:"type:varchar(120);not null" json:"subject"`
	Payload     datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	LastError   string         `gorm:"type:text" json:"last_error,omitempty"`
	PublishedAt *time.Time     `gorm:"index" json:"published_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (e *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// StagingCommittedEvent is the payload of SubjectStagingCommitted
type StagingCommittedEvent struct {
	StoreID    int64     `json:"store_id"`
	ProductIDs []int64   `json:"product_ids"`
	StagingIDs []int64   `json:"staging_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

// CouponEvent is the payload of the coupon subjects
type CouponEvent struct {
	CouponID   uuid.UUID `json:"coupon_id"`
	Code       string    `json:"code"`
	ActorEmail string    `json:"actor_email,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse is the flat failure body returned by every route
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
