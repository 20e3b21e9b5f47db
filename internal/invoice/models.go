package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ScanSession is the staged, not-yet-final record of one uploaded invoice's
// extraction progress and results. Nothing in it reaches permanent history
// until the operator commits it.
type ScanSession struct {
	SessionID uuid.UUID `gorm:"type:char(36);primaryKey" json:"session_id"`

	// Header fields, nullable until aggregation has run
	SupplierName  *string          `gorm:"size:255" json:"supplier_name"`
	InvoiceNumber *string          `gorm:"size:100" json:"invoice_number"`
	InvoiceDate   *time.Time       `json:"invoice_date"`
	TotalAmount   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"total_amount"`

	// Duplicate detection
	InvoiceHash          *string    `gorm:"size:64;index" json:"invoice_hash"`
	IsDuplicate          bool       `json:"is_duplicate"`
	DuplicateOfSessionID *uuid.UUID `gorm:"type:char(36)" json:"duplicate_of_session_id"`

	// Processing state
	Status         Status  `gorm:"size:50;default:pending" json:"status"`
	TotalPages     int     `json:"total_pages"`
	PagesProcessed int     `json:"pages_processed"`
	ErrorMessage   *string `gorm:"type:text" json:"error_message"`

	// Temp upload, deleted once commit or rejection finalizes the session
	ArtifactKey    *string `gorm:"size:100" json:"-"`
	SourceFilename string  `gorm:"size:255" json:"source_filename"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ReviewedAt  *time.Time `json:"reviewed_at"`
	CommittedAt *time.Time `json:"committed_at"`

	Items []ExtractedItem `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`
}

// ExtractedItem is one line item found across all pages of one session. It
// exists only while its session exists and is cascade-deleted with it.
type ExtractedItem struct {
	ItemID    uuid.UUID `gorm:"type:char(36);primaryKey" json:"item_id"`
	SessionID uuid.UUID `gorm:"type:char(36);index;not null" json:"session_id"`

	// Extraction order across all pages. Batch inserts share one
	// created_at timestamp, so this is the only reliable sort key.
	Position int `gorm:"not null" json:"position"`

	ProductName string           `gorm:"size:500" json:"product_name"`
	Quantity    decimal.Decimal  `gorm:"type:decimal(10,2)" json:"quantity"`
	UnitCost    *decimal.Decimal `gorm:"type:decimal(10,2)" json:"unit_cost"`
	LineTotal   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"line_total"`
	Category    string           `gorm:"size:100" json:"category"`
	ProductCode *string          `gorm:"size:100" json:"product_code"`

	// Operator-editable before commit
	ModifiedExpiryDate *time.Time `json:"modified_expiry_date"`
	ModifiedHealthDate *time.Time `json:"modified_health_date"`
	IncludeInCommit    bool       `gorm:"default:true" json:"include_in_commit"`

	// Set by the product-matching step, consumed by the commit engine
	MatchedProductID *uuid.UUID       `gorm:"type:char(36)" json:"matched_product_id"`
	MatchConfidence  *decimal.Decimal `gorm:"type:decimal(3,2)" json:"match_confidence"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CommittedItem is the denormalized snapshot of one line item at commit
// time, kept with the history row so audit display survives later schema
// changes.
type CommittedItem struct {
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Category    string          `json:"category"`
	ProductCode *string         `json:"product_code"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

// CommittedInvoice is the append-only history row created exactly once per
// physical invoice. It is never mutated or deleted by normal operation.
type CommittedInvoice struct {
	CommittedInvoiceID uuid.UUID `gorm:"type:char(36);primaryKey" json:"committed_invoice_id"`

	SupplierName  *string          `gorm:"size:255" json:"supplier_name"`
	InvoiceNumber *string          `gorm:"size:100" json:"invoice_number"`
	InvoiceDate   *time.Time       `json:"invoice_date"`
	TotalAmount   *decimal.Decimal `gorm:"type:decimal(10,2)" json:"total_amount"`

	// The store enforces the duplicate-prevention invariant, not the app.
	InvoiceHash string `gorm:"size:64;uniqueIndex" json:"invoice_hash"`

	ItemsCount        int             `json:"items_count"`
	CommittedItems    []CommittedItem `gorm:"serializer:json" json:"committed_items"`
	OriginalSessionID uuid.UUID       `gorm:"type:char(36)" json:"original_session_id"`
	CommittedAt       time.Time       `json:"committed_at"`
}

// InventoryItem is the catalog/stock row the commit engine applies deltas
// against. The wider back-office owns the rest of its lifecycle.
type InventoryItem struct {
	InventoryID uuid.UUID `gorm:"type:char(36);primaryKey" json:"inventory_id"`

	ProductName string  `gorm:"size:500" json:"product_name"`
	ProductCode *string `gorm:"size:100;index" json:"product_code"`
	Category    string  `gorm:"size:100" json:"category"`

	QuantityOnHand decimal.Decimal `gorm:"type:decimal(10,2)" json:"quantity_on_hand"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(10,2)" json:"unit_cost"`
	SellingPrice   decimal.Decimal `gorm:"type:decimal(10,2)" json:"selling_price"`
	ReorderLevel   int             `gorm:"default:10" json:"reorder_level"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AutoMigrate creates or updates the pipeline's tables in one tenant
// database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ScanSession{},
		&ExtractedItem{},
		&CommittedInvoice{},
		&InventoryItem{},
	)
}
