package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// looseString tolerates non-string JSON values (numbers, mostly invoice
// numbers) by rendering them as strings.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = looseString(num.String())
		return nil
	}
	return fmt.Errorf("value %q is neither string nor number", string(data))
}

// looseNumber tolerates numbers that come back quoted, with currency symbols
// or thousands separators ("1,250.00", "₹45").
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = looseNumber(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("value %q is not numeric", string(data))
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, str)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return fmt.Errorf("value %q is not numeric", str)
	}
	*n = looseNumber(f)
	return nil
}

type rawPageItem struct {
	ProductName *looseString `json:"product_name"`
	Quantity    *looseNumber `json:"quantity"`
	UnitCost    *looseNumber `json:"unit_cost"`
	TotalPrice  *looseNumber `json:"total_price"`
	Category    *looseString `json:"category"`
	ProductCode *looseString `json:"product_code"`
}

type rawPageRecord struct {
	VendorName    *looseString `json:"vendor_name"`
	InvoiceNumber *looseString `json:"invoice_number"`
	InvoiceDate   *looseString `json:"invoice_date"`
	TotalAmount   *looseNumber `json:"total_amount"`
	Items         []rawPageItem `json:"items"`
}

// parseInvoiceJSON validates the extraction service's response against the
// optional-field page schema. The response is treated as hostile: markdown
// fences, leading prose and quoted numbers all occur in practice. A response
// that cannot be coerced into the schema is an error; the caller degrades it
// to an empty record.
func parseInvoiceJSON(text string) (*PageRecord, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawPageRecord
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	record := &PageRecord{
		VendorName:    cleanString(raw.VendorName),
		InvoiceNumber: cleanString(raw.InvoiceNumber),
		InvoiceDate:   normalizeDate(cleanString(raw.InvoiceDate)),
		TotalAmount:   toFloat(raw.TotalAmount),
	}
	for _, rawItem := range raw.Items {
		record.Items = append(record.Items, PageItem{
			ProductName: cleanString(rawItem.ProductName),
			Quantity:    toFloat(rawItem.Quantity),
			UnitCost:    toFloat(rawItem.UnitCost),
			TotalPrice:  toFloat(rawItem.TotalPrice),
			Category:    cleanString(rawItem.Category),
			ProductCode: cleanString(rawItem.ProductCode),
		})
	}

	return record, nil
}

// dateFormats are tried in order when normalizing a free-text invoice date.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"02/01/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// normalizeDate coerces a free-text date to YYYY-MM-DD where possible. An
// unparseable date is passed through untouched rather than guessed at; the
// operator fixes it during review.
func normalizeDate(raw *string) *string {
	if raw == nil {
		return nil
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, *raw); err == nil {
			formatted := d.Format("2006-01-02")
			return &formatted
		}
	}
	return raw
}

func cleanString(s *looseString) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(string(*s))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func toFloat(n *looseNumber) *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}
