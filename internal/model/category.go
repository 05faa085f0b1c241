package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultCategory is used when a filename carries no category token.
const DefaultCategory = "General"

// CategoryFields holds the editable attributes of a Category.
type CategoryFields struct {
	Name             string              `gorm:"type:varchar(100);not null" json:"name"`
	Description      string              `gorm:"type:text" json:"description"`
	ApprovalCriteria string              `gorm:"type:text" json:"approval_criteria"`
	MaximumAmount    decimal.NullDecimal `gorm:"type:numeric(18,2)" json:"maximum_amount"` // overrides the default threshold
	Active           bool                `gorm:"not null" json:"active"`
	CreatedBy        string              `gorm:"type:varchar(100)" json:"created_by"`
	UpdatedBy        string              `gorm:"type:varchar(100)" json:"updated_by"`
}

// Category is a named spending bucket. Name is unique ignoring case (idx_categories_name_upper).
type Category struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryFields
	CreatedOn time.Time `gorm:"not null" json:"created_on"`
	UpdatedOn time.Time `gorm:"not null" json:"updated_on"`
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CategoryHistory keeps the pre-edit state of a Category for every administrative change.
type CategoryHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryID uuid.UUID `gorm:"type:uuid;not null;index" json:"category_id"`
	CategoryFields
	Comments  string    `gorm:"type:text" json:"comments"`
	CreatedOn time.Time `gorm:"not null;index" json:"created_on"`
}

func (h *CategoryHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// CategoryLookup is the outcome of resolving a category name. Found=false is a normal result.
type CategoryLookup struct {
	Found            bool                `json:"found"`
	Name             string              `json:"name"`
	ApprovalCriteria string              `json:"approval_criteria,omitempty"`
	MaximumAmount    decimal.NullDecimal `json:"maximum_amount"`
}
