package scanning

import "context"

// PageItem is one line item as read from a single invoice page. Every field
// is optional: the recognition service frequently drops columns, so nothing
// here is trusted until the aggregator has run.
type PageItem struct {
	ProductName *string  `json:"product_name"`
	Quantity    *float64 `json:"quantity"`
	UnitCost    *float64 `json:"unit_cost"`
	TotalPrice  *float64 `json:"total_price"`
	Category    *string  `json:"category"`
	ProductCode *string  `json:"product_code"`
}

// PageRecord is the loosely-structured result of extracting one page.
type PageRecord struct {
	VendorName    *string    `json:"vendor_name"`
	InvoiceNumber *string    `json:"invoice_number"`
	InvoiceDate   *string    `json:"invoice_date"` // free-text, normalized later
	TotalAmount   *float64   `json:"total_amount"`
	Items         []PageItem `json:"items"`
}

// EmptyRecord is what a failed page degrades to. The pipeline substitutes it
// whenever extraction or parsing fails so one bad page never aborts the
// document.
func EmptyRecord() *PageRecord {
	return &PageRecord{}
}

// PageExtractor sends one rendered page image to a vision-capable extraction
// service and returns whatever it could read.
type PageExtractor interface {
	// ExtractPage analyzes a single page image (PNG bytes).
	ExtractPage(ctx context.Context, pageImage []byte) (*PageRecord, error)
	// Close closes the extractor and releases resources
	Close() error
}
