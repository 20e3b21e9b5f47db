package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fingerprint derives the stable duplicate-detection hash from normalized
// header fields. Two sessions whose reconciled headers normalize identically
// produce the same fingerprint, which is what lets the store's unique index
// block a second commit of the same physical invoice.
//
// Normalization: fields are trimmed and lower-cased, the date is rendered as
// YYYY-MM-DD, the amount with exactly two decimal places, and missing fields
// as empty segments.
func Fingerprint(supplier, invoiceNumber *string, invoiceDate *time.Time, totalAmount *decimal.Decimal) string {
	var date, total string
	if invoiceDate != nil {
		date = invoiceDate.Format("2006-01-02")
	}
	if totalAmount != nil {
		total = totalAmount.StringFixed(2)
	}

	data := fmt.Sprintf("%s|%s|%s|%s",
		strings.TrimSpace(deref(supplier)),
		strings.TrimSpace(deref(invoiceNumber)),
		date,
		total,
	)
	sum := sha256.Sum256([]byte(strings.ToLower(data)))
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
