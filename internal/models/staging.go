package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// StagingStatus is the lifecycle state of an imported catalog row
type StagingStatus string

const (
	StagingDraft    StagingStatus = "draft"
	StagingImported StagingStatus = "imported"
)

// StagingRow is one imported record from an external catalog awaiting review.
// Raw* columns keep the value as it arrived; the mapped columns are filled when
// the import could coerce them.
type StagingRow struct {
	ID          int64            `gorm:"primaryKey" json:"id"`
	StoreID     int64            `gorm:"not null;index;uniqueIndex:idx_staging_draft_external,priority:1,where:status = 'draft'" json:"store_id"`
	ExternalID  *string          `gorm:"type:varchar(120);uniqueIndex:idx_staging_draft_external,priority:2,where:status = 'draft'" json:"external_id,omitempty"`
	RawName     string           `gorm:"type:varchar(500)" json:"raw_name"`
	Name        *string          `gorm:"type:varchar(500)" json:"name,omitempty"`
	RawPrice    string           `gorm:"type:varchar(64)" json:"raw_price"`
	Price       *decimal.Decimal `gorm:"type:decimal(12,2)" json:"price,omitempty"`
	RawStock    string           `gorm:"type:varchar(64)" json:"raw_stock"`
	Stock       *int             `json:"stock,omitempty"`
	Sizes       datatypes.JSON   `gorm:"type:jsonb" json:"sizes,omitempty"`
	PhotoURLs   datatypes.JSON   `gorm:"type:jsonb" json:"photo_urls,omitempty"`
	ImageURL    string           `gorm:"type:text" json:"image_url,omitempty"`
	Category    string           `gorm:"type:varchar(120)" json:"category,omitempty"`
	Gender      string           `gorm:"type:varchar(40)" json:"gender,omitempty"`
	Subcategory string           `gorm:"type:varchar(120)" json:"subcategory,omitempty"`
	Status      StagingStatus    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	RawPayload  datatypes.JSON   `gorm:"type:jsonb" json:"raw_payload,omitempty"`
	ImportedAt  *time.Time       `json:"imported_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (StagingRow) TableName() string {
	return "staging_products"
}

// SizeEntry pairs a size label with its stock
type SizeEntry struct {
	Size  string `json:"size"`
	Stock int    `json:"stock"`
}

// GroupedProduct is the in-memory aggregation of staging rows that describe the
// same item. It is never persisted.
type GroupedProduct struct {
	Key          string          `json:"key"`
	Name         string          `json:"name"`
	ExternalID   string          `json:"external_id,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	SizeEntries  []SizeEntry     `json:"size_entries"`
	StagingIDs   []int64         `json:"staging_ids"`
	PhotoURLs    []string        `json:"photo_urls"`
	ImageURL     string          `json:"image_url,omitempty"`
	Category     string          `json:"category,omitempty"`
	Gender       string          `json:"gender,omitempty"`
	Subcategory  string          `json:"subcategory,omitempty"`
	DroppedSizes []string        `json:"dropped_sizes,omitempty"`
}

// SizeList accepts either a JSON array of strings or a single delimited string
type SizeList []string

func (s *SizeList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = SplitSizes(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// SplitSizes breaks a delimited size string ("P, M / G") into trimmed labels
func SplitSizes(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '/' || r == ';' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CommitItem is one client-edited grouped product submitted for promotion
type CommitItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ExternalID  string          `json:"external_id"`
	Price       decimal.Decimal `json:"price"`
	Stock       *int            `json:"stock"`
	SizeEntries []SizeEntry     `json:"size_entries"`
	Sizes       SizeList        `json:"sizes"`
	SizeStocks  []int           `json:"size_stocks"`
	Size        string          `json:"size"`
	StagingIDs  []int64         `json:"staging_ids"`
	PhotoURLs   []string        `json:"photo_urls"`
	ImageURL    string          `json:"image_url"`
	Category    string          `json:"category"`
	Gender      string          `json:"gender"`
	Subcategory string          `json:"subcategory"`
}

// StagingCommitRequest is the body of POST /api/integrations/tiny/staging
type StagingCommitRequest struct {
	Action  string       `json:"action"`
	StoreID int64        `json:"store_id"`
	Items   []CommitItem `json:"items"`
}

// StagingUploadResult summarises a spreadsheet upload into staging
type StagingUploadResult struct {
	Staged int              `json:"staged"`
	Errors []ImportRowError `json:"errors"`
}

// ImportRowError describes a spreadsheet row that could not be staged
type ImportRowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TemplateColumn describes one column of the staging upload template
type TemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Example     string `json:"example"`
}

// StagingTemplateColumns lists the spreadsheet columns understood by the upload
func StagingTemplateColumns() []TemplateColumn {
	return []TemplateColumn{
		{Name: "name", Description: "Product name, may end with a size (\"Vestido Azul - P\")", Required: true, Example: "Vestido Azul - P"},
		{Name: "external_id", Description: "Identifier in the source system", Example: "TINY-1234"},
		{Name: "price", Description: "Unit price", Required: true, Example: "189,90"},
		{Name: "stock", Description: "Units available", Example: "3"},
		{Name: "sizes", Description: "Sizes separated by comma or slash", Example: "P, M, G"},
		{Name: "photo_urls", Description: "Photo URLs separated by comma", Example: "https://cdn.look.com/a.jpg"},
		{Name: "category", Description: "Category name", Example: "Vestidos"},
		{Name: "gender", Description: "feminino, masculino or unissex", Example: "feminino"},
		{Name: "subcategory", Description: "Subcategory name", Example: "Midi"},
	}
}
