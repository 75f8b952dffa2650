package sequence

import (
	"errors"
	"fmt"
)

// Kind describes a business document numbering scheme.
type Kind struct {
	Prefix     string
	YearScoped bool
	Width      int
}

// Document number kinds issued by the platform. Numbers are user visible
// and must remain stable once issued.
var (
	// Indent numbers: IND-2026-0001, scoped per calendar year.
	Indent = Kind{Prefix: "IND", YearScoped: true, Width: 4}
	// GoodsReceipt numbers: GRN-2026-0001.
	GoodsReceipt = Kind{Prefix: "GRN", YearScoped: true, Width: 4}
	// StockTransaction numbers: TXN-2026-0001.
	StockTransaction = Kind{Prefix: "TXN", YearScoped: true, Width: 4}
	// Material codes: MAT-2026-0001, generated for lazily created ledger items.
	Material = Kind{Prefix: "MAT", YearScoped: true, Width: 4}
	// PurchaseRequest numbers: PR-001, globally scoped.
	PurchaseRequest = Kind{Prefix: "PR", YearScoped: false, Width: 3}
)

var (
	// ErrExhaustedRetries indicates the allocation retry budget ran out.
	// Safe for the caller to retry the whole operation.
	ErrExhaustedRetries = errors.New("sequence: exhausted allocation retries")
	// ErrDuplicateNumber indicates a formatted number collided on insert.
	ErrDuplicateNumber = errors.New("sequence: duplicate document number")
)

// Format renders the sequence value into the user-visible number.
func (k Kind) Format(year int, value int64) string {
	if k.YearScoped {
		return fmt.Sprintf("%s-%d-%0*d", k.Prefix, year, k.Width, value)
	}
	return fmt.Sprintf("%s-%0*d", k.Prefix, k.Width, value)
}

// Scope returns the counter scope for the kind at the given year.
func (k Kind) Scope(year int) string {
	if k.YearScoped {
		return fmt.Sprintf("%d", year)
	}
	return "GLOBAL"
}
