package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Request status enum constants
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// ApprovalType enum constants
const (
	ApprovalTypeAuto   = "Auto"
	ApprovalTypeManual = "Manual"
)

// Actor ids stamped on created_by / updated_by
const (
	ActorPipeline = "AI"
	ActorSystem   = "SYSTEM"
	ActorManual   = "manual"
)

// ValidStatus reports whether s is one of the three request statuses.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// IsTerminal reports whether a request in status s can no longer transition.
func IsTerminal(s string) bool {
	return s == StatusApproved || s == StatusRejected
}

// RequestFields is the mutable state of a Request, shared verbatim by its history snapshots.
type RequestFields struct {
	UserID        string          `gorm:"type:varchar(100);not null" json:"user_id"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	InvoiceDate   string          `gorm:"type:varchar(32)" json:"invoice_date"`
	InvoiceNumber string          `gorm:"type:varchar(100)" json:"invoice_number"`
	CategoryName  string          `gorm:"type:varchar(100)" json:"category_name"` // copy, not a FK
	CurrentStatus string          `gorm:"type:varchar(20);not null" json:"current_status"`
	Comments      string          `gorm:"type:text" json:"comments"`
	ApprovalType  string          `gorm:"type:varchar(20);not null" json:"approval_type"` // Auto, Manual
	CreatedBy     string          `gorm:"type:varchar(100)" json:"created_by"`
	UpdatedBy     string          `gorm:"type:varchar(100)" json:"updated_by"`
}

// Request is the persistent record of one invoice's approval outcome.
type Request struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestFields
	FileName  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"file_name"`
	CreatedOn time.Time `gorm:"not null;index" json:"created_on"`
	UpdatedOn time.Time `gorm:"not null" json:"updated_on"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RequestHistory snapshots a Request as it was before a transition. Rows are never updated.
type RequestHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Request   *Request  `gorm:"foreignKey:RequestID" json:"-"`
	RequestFields
	FileName         string    `gorm:"type:varchar(255)" json:"file_name"`
	RequestCreatedOn time.Time `json:"request_created_on"`
	RequestUpdatedOn time.Time `json:"request_updated_on"`
	CreatedOn        time.Time `gorm:"not null;index" json:"created_on"`
}

func (h *RequestHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Snapshot builds the history row for r as it currently stands.
func (r *Request) Snapshot(at time.Time) RequestHistory {
	return RequestHistory{
		RequestID:        r.ID,
		RequestFields:    r.RequestFields,
		FileName:         r.FileName,
		RequestCreatedOn: r.CreatedOn,
		RequestUpdatedOn: r.UpdatedOn,
		CreatedOn:        at,
	}
}
