package inventory

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates ledger movements.
type TransactionType string

const (
	// TransactionTypeIn represents an inbound movement (GRN receipt).
	TransactionTypeIn TransactionType = "Stock In"
	// TransactionTypeOut represents an outbound movement (indent issue).
	TransactionTypeOut TransactionType = "Stock Out"
)

// Item is the ledger row per distinct material: the single source of truth
// for how much is on hand and at what cost.
type Item struct {
	MaterialID   uuid.UUID
	Code         string
	Name         string
	Category     string
	Unit         string
	CurrentStock float64
	ReorderLevel float64
	AverageRate  float64
	TotalValue   float64
	Warehouse    string
	UpdatedAt    time.Time
}

// LowStock reports whether the item is at or below its reorder level.
func (i Item) LowStock() bool {
	return i.CurrentStock <= i.ReorderLevel
}

// DocumentRef links a stock transaction to its originating document.
// GRN and Indent references are mutually exclusive.
type DocumentRef struct {
	GRNID    uuid.UUID
	IndentID uuid.UUID
}

// Validate enforces mutual exclusivity.
func (r DocumentRef) Validate() error {
	if r.GRNID != uuid.Nil && r.IndentID != uuid.Nil {
		return ErrConflictingRefs
	}
	return nil
}

// StockTransaction is an immutable ledger entry recording one quantity
// movement and the balance that resulted from it.
type StockTransaction struct {
	ID           uuid.UUID
	Number       string
	Type         TransactionType
	MaterialID   uuid.UUID
	MaterialName string
	Quantity     float64
	Unit         string
	Rate         float64
	GRNID        uuid.UUID
	IndentID     uuid.UUID
	ActorID      uuid.UUID
	OccurredAt   time.Time
	BalanceAfter float64
}

// StockInInput describes an inbound posting.
type StockInInput struct {
	Material  MaterialInput
	Quantity  float64
	Rate      float64
	Warehouse string
	Ref       DocumentRef
	ActorID   uuid.UUID
}

// MaterialInput addresses an existing material by id or, on the legacy path,
// by name. Category and Unit seed a lazily created item.
type MaterialInput struct {
	ID       uuid.UUID
	Name     string
	Category string
	Unit     string
}

// StockOutInput describes an outbound posting.
type StockOutInput struct {
	MaterialID uuid.UUID
	Quantity   float64
	Ref        DocumentRef
	ActorID    uuid.UUID
}

// ItemFilter filters material listings.
type ItemFilter struct {
	Category     string
	LowStockOnly bool
	Search       string
	Page         int
	PerPage      int
}

var (
	// ErrItemNotFound indicates the ledger has no row for the material.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrTransactionNotFound indicates a missing ledger entry.
	ErrTransactionNotFound = errors.New("inventory: stock transaction not found")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidRate indicates a negative unit rate.
	ErrInvalidRate = errors.New("inventory: rate must be >= 0")
	// ErrConflictingRefs indicates both a GRN and an Indent reference were supplied.
	ErrConflictingRefs = errors.New("inventory: transaction may reference a GRN or an indent, not both")
	// ErrNotStockIn indicates a reversal was requested for a non-inbound entry.
	ErrNotStockIn = errors.New("inventory: only stock-in transactions can be reversed")
	// ErrItemReferenced refuses deletion of an item still referenced by open
	// indents or ledger rows.
	ErrItemReferenced = errors.New("inventory: item is referenced by open documents")
)

// InsufficientStockError is returned when a stock-out exceeds the balance.
// Never auto-retried; always surfaced to the caller.
type InsufficientStockError struct {
	MaterialID uuid.UUID
	Available  float64
	Requested  float64
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock: requested %.3f, available %.3f", e.Requested, e.Available)
}

// Problem implements httpx.Problemer.
func (e InsufficientStockError) Problem() (int, string, map[string]any) {
	return http.StatusConflict, "Insufficient Stock", map[string]any{
		"material_id": e.MaterialID.String(),
		"available":   e.Available,
		"requested":   e.Requested,
	}
}
