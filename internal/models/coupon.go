package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DiscountType represents the type of discount
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// UsageKind classifies how often an identity may use a coupon
type UsageKind string

const (
	UsageSingleUse  UsageKind = "single_use"
	UsageFirstOrder UsageKind = "first_order"
	UsageUnlimited  UsageKind = "unlimited"
)

// Coupon is a discount rule. A nil CreatedByBrandID marks a platform coupon.
type Coupon struct {
	ID               uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	Code             string                `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Description      string                `gorm:"type:text" json:"description,omitempty"`
	DiscountType     DiscountType          `gorm:"type:varchar(20);not null" json:"discount_type"`
	DiscountValue    decimal.Decimal       `gorm:"type:decimal(12,2);not null" json:"discount_value"`
	UsageKind        UsageKind             `gorm:"type:varchar(20);not null" json:"usage_kind"`
	ExpiresAt        *time.Time            `json:"expires_at,omitempty"`
	MaxUses          *int                  `json:"max_uses,omitempty"`
	UsedCount        int                   `gorm:"not null;default:0" json:"used_count"`
	Active           bool                  `gorm:"not null" json:"active"`
	ApplyToAll       bool                  `gorm:"not null" json:"apply_to_all"`
	CreatedByBrandID *int64                `gorm:"index" json:"created_by_brand_id,omitempty"`
	CreatedByEmail   string                `gorm:"type:varchar(255)" json:"created_by_email,omitempty"`
	Applicabilities  []CouponApplicability `gorm:"foreignKey:CouponID;constraint:OnDelete:CASCADE" json:"applicabilities,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func (c *Coupon) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Code = NormalizeCouponCode(c.Code)
	return nil
}

// IsExpired reports whether the coupon expiry is in the past at now
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// NormalizeCouponCode makes codes case-insensitive by storing them upper-cased
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CouponApplicability scopes a coupon to one brand or one product
type CouponApplicability struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	CouponID  uuid.UUID `gorm:"type:uuid;not null;index" json:"coupon_id"`
	BrandID   *int64    `gorm:"index" json:"brand_id,omitempty"`
	ProductID *int64    `gorm:"index" json:"product_id,omitempty"`
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	Brand     *Brand    `gorm:"foreignKey:BrandID;constraint:OnDelete:CASCADE" json:"-"`
	Product   *Product  `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// CouponRedemption records one use of a coupon by an identity
type CouponRedemption struct {
	ID             int64           `gorm:"primaryKey" json:"id"`
	CouponID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"coupon_id"`
	Identity       string          `gorm:"type:varchar(255);not null;index" json:"identity"`
	OrderRef       string          `gorm:"type:varchar(120)" json:"order_ref,omitempty"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AdminAllowlist holds the emails allowed to manage coupons
type AdminAllowlist struct {
	Email     string    `gorm:"type:varchar(255);primaryKey" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (AdminAllowlist) TableName() string {
	return "admin_allowlist"
}

// ApplicabilityScope is the scope selection written alongside a coupon.
// ApplyToAll wins; otherwise ProductIDs, then BrandIDs.
type ApplicabilityScope struct {
	ApplyToAll bool    `json:"apply_to_all"`
	BrandIDs   []int64 `json:"brand_ids"`
	ProductIDs []int64 `json:"product_ids"`
}

// SaveCouponRequest creates a coupon or updates the one with the same code
type SaveCouponRequest struct {
	Code             string          `json:"code" binding:"required"`
	Description      string          `json:"description"`
	DiscountType     DiscountType    `json:"discount_type" binding:"required,oneof=percentage fixed"`
	DiscountValue    decimal.Decimal `json:"discount_value"`
	UsageKind        UsageKind       `json:"usage_kind"`
	ExpiresAt        *time.Time      `json:"expires_at"`
	MaxUses          *int            `json:"max_uses"`
	Active           *bool           `json:"active"`
	CreatedByBrandID *int64          `json:"created_by_brand_id"`
	ApplicabilityScope
}

// CartItem is one line of the cart a coupon is validated against
type CartItem struct {
	ProductID int64           `json:"product_id"`
	BrandID   int64           `json:"brand_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// ValidateCouponRequest asks whether a code applies to a cart
type ValidateCouponRequest struct {
	Code  string     `json:"code" binding:"required"`
	Items []CartItem `json:"items"`
}

// CouponValidation is the outcome of validating a coupon against a cart
type CouponValidation struct {
	Valid            bool            `json:"valid"`
	Reason           string          `json:"reason,omitempty"`
	CouponID         uuid.UUID       `json:"coupon_id,omitempty"`
	Code             string          `json:"code"`
	EligibleSubtotal decimal.Decimal `json:"eligible_subtotal"`
	Discount         decimal.Decimal `json:"discount"`
}
