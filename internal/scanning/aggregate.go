package scanning

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Header is the reconciled invoice header after merging all page records.
type Header struct {
	VendorName    *string
	InvoiceNumber *string
	InvoiceDate   *string // still free-text; date parsing happens at persist time
	TotalAmount   *decimal.Decimal
}

// LineItem is one reconciled line item ready to be staged for review.
type LineItem struct {
	ProductName string
	Quantity    decimal.Decimal
	UnitCost    *decimal.Decimal
	LineTotal   *decimal.Decimal
	Category    string
	ProductCode *string
}

// Aggregate merges per-page extraction records into one canonical invoice.
//
// The merge is deliberately simple and deterministic:
//   - header fields keep the first non-null value in page order; later pages
//     never override a resolved field
//   - line items are concatenated flat, in page order, with no de-duplication
//     (the same product on two pages is two purchases)
//   - missing per-item values are derived arithmetically where possible
//   - missing categories fall back to keyword inference
//   - a missing header total falls back to the sum of line totals
func Aggregate(records []*PageRecord) (Header, []LineItem) {
	var header Header

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if header.VendorName == nil && rec.VendorName != nil {
			header.VendorName = rec.VendorName
		}
		if header.InvoiceNumber == nil && rec.InvoiceNumber != nil {
			header.InvoiceNumber = rec.InvoiceNumber
		}
		if header.InvoiceDate == nil && rec.InvoiceDate != nil {
			header.InvoiceDate = rec.InvoiceDate
		}
		if header.TotalAmount == nil && rec.TotalAmount != nil {
			total := decimal.NewFromFloat(*rec.TotalAmount)
			header.TotalAmount = &total
		}
	}

	var items []LineItem
	for _, rec := range records {
		if rec == nil {
			continue
		}
		for _, pageItem := range rec.Items {
			items = append(items, reconcileItem(pageItem))
		}
	}

	if header.TotalAmount == nil {
		sum := decimal.Zero
		for _, item := range items {
			if item.LineTotal != nil {
				sum = sum.Add(*item.LineTotal)
			}
		}
		header.TotalAmount = &sum
	}

	return header, items
}

// reconcileItem fills in a single item's derivable gaps.
func reconcileItem(src PageItem) LineItem {
	item := LineItem{
		ProductName: derefTrimmed(src.ProductName),
		ProductCode: src.ProductCode,
	}

	// Quantity defaults to 1: a bare product row on an invoice means one unit.
	quantity := decimal.NewFromInt(1)
	if src.Quantity != nil {
		quantity = decimal.NewFromFloat(*src.Quantity)
	}
	item.Quantity = quantity

	if src.UnitCost != nil {
		unitCost := decimal.NewFromFloat(*src.UnitCost)
		item.UnitCost = &unitCost
	}
	if src.TotalPrice != nil {
		lineTotal := decimal.NewFromFloat(*src.TotalPrice)
		item.LineTotal = &lineTotal
	}

	if item.LineTotal == nil && item.UnitCost != nil {
		lineTotal := item.UnitCost.Mul(quantity)
		item.LineTotal = &lineTotal
	}
	if item.UnitCost == nil && item.LineTotal != nil && quantity.IsPositive() {
		unitCost := item.LineTotal.Div(quantity)
		item.UnitCost = &unitCost
	}

	if isGenericCategory(src.Category) {
		item.Category = InferCategory(item.ProductName)
	} else {
		item.Category = strings.TrimSpace(*src.Category)
	}

	return item
}

func derefTrimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
