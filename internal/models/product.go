package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product is a live catalog entry
type Product struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	BrandID          int64           `gorm:"not null;index" json:"brand_id"`
	Name             string          `gorm:"type:varchar(500);not null" json:"name"`
	Description      string          `gorm:"type:text" json:"description,omitempty"`
	ExternalID       *string         `gorm:"type:varchar(120);index" json:"external_id,omitempty"`
	Price            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Sizes            pq.StringArray  `gorm:"type:text[]" json:"sizes"`
	SizeStocks       pq.Int64Array   `gorm:"type:integer[]" json:"size_stocks"`
	Stock            int             `gorm:"not null;default:0" json:"stock"`
	PhotoURLs        pq.StringArray  `gorm:"type:text[]" json:"photo_urls"`
	ImageURL         string          `gorm:"type:text" json:"image_url,omitempty"`
	Category         string          `gorm:"type:varchar(120);index" json:"category,omitempty"`
	Gender           string          `gorm:"type:varchar(40)" json:"gender,omitempty"`
	Subcategory      string          `gorm:"type:varchar(120)" json:"subcategory,omitempty"`
	Active           bool            `gorm:"not null;index" json:"active"`
	SourceStagingIDs pq.Int64Array   `gorm:"type:bigint[]" json:"source_staging_ids,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ProductListParams are the catalog listing filters
type ProductListParams struct {
	BrandID  *int64 `json:"brand_id,omitempty"`
	Category string `json:"category,omitempty"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
}

// ProductPage is one page of the catalog listing
type ProductPage struct {
	Items   []Product `json:"items"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	HasMore bool      `json:"has_more"`
}

// Brand is a partner store selling on the marketplace
type Brand struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	OwnerEmail string    `gorm:"type:varchar(255);index" json:"owner_email,omitempty"`
	Active     bool      `gorm:"not null" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
