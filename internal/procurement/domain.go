package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Purchase request statuses. A request starts in Pending Quotation when an
// indent shortage escalates and moves forward as purchasing acts on it.
const (
	PRStatusPendingQuotation = "Pending Quotation"
	PRStatusOrdered          = "Ordered"
	PRStatusFulfilled        = "Fulfilled"
)

// PurchaseRequest is the escalation record raised for an indent shortage.
// At most one exists per indent.
type PurchaseRequest struct {
	ID           uuid.UUID
	Number       string
	IndentID     uuid.UUID
	IndentNumber string
	SiteID       uuid.UUID
	MaterialID   uuid.UUID
	MaterialName string
	Quantity     float64
	Unit         string
	Priority     string
	RequiredBy   time.Time
	Status       string
	RaisedBy     uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purchase order fulfillment statuses.
const (
	POStatusOpen              = "Open"
	POStatusPartiallyReceived = "Partially Received"
	POStatusFulfilled         = "Fulfilled"
)

// PurchaseOrder is a read-only source document: receipts consume its
// contracted rates and ordered quantities, and receipt updates roll its
// fulfillment status forward.
type PurchaseOrder struct {
	ID         uuid.UUID
	Number     string
	VendorName string
	Status     string
	Items      []PurchaseOrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PurchaseOrderItem is one contracted line on a purchase order.
type PurchaseOrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	MaterialID   uuid.UUID
	MaterialName string
	Unit         string
	OrderedQty   float64
	ReceivedQty  float64
	Rate         float64
}

// Item looks up a purchase order line by material.
func (po PurchaseOrder) Item(materialID uuid.UUID) (PurchaseOrderItem, bool) {
	for _, item := range po.Items {
		if item.MaterialID == materialID {
			return item, true
		}
	}
	return PurchaseOrderItem{}, false
}

// GRN statuses derived from accepted vs rejected quantities.
const (
	GRNStatusAccepted          = "Accepted"
	GRNStatusPartiallyAccepted = "Partially Accepted"
	GRNStatusRejected          = "Rejected"
)

// GRN records one goods receipt against a purchase order. StockUpdated flips
// false to true exactly once, when the accepted quantities are posted to the
// inventory ledger.
type GRN struct {
	ID            uuid.UUID
	Number        string
	OrderID       uuid.UUID
	OrderNumber   string
	VendorName    string
	ReceivedBy    uuid.UUID
	ReceivedAt    time.Time
	VehicleNumber string
	Remarks       string
	Status        string
	StockUpdated  bool
	Items         []GRNItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GRNItem is one received line. Quantities satisfy
// ReceivedQty == AcceptedQty + RejectedQty.
type GRNItem struct {
	ID            uuid.UUID
	GRNID         uuid.UUID
	MaterialID    uuid.UUID
	MaterialName  string
	Unit          string
	ReceivedQty   float64
	AcceptedQty   float64
	RejectedQty   float64
	Rate          float64
	TransactionID uuid.UUID
	Remarks       string
}

// DeriveStatus computes the GRN status from its lines.
func DeriveStatus(items []GRNItem) string {
	var accepted, rejected float64
	for _, item := range items {
		accepted += item.AcceptedQty
		rejected += item.RejectedQty
	}
	switch {
	case accepted > 0 && rejected == 0:
		return GRNStatusAccepted
	case accepted > 0:
		return GRNStatusPartiallyAccepted
	default:
		return GRNStatusRejected
	}
}

// GRNFilter filters receipt listings.
type GRNFilter struct {
	Vendor  string
	Status  string
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// PRFilter filters purchase request listings.
type PRFilter struct {
	Status  string
	SiteID  uuid.UUID
	Page    int
	PerPage int
}

var (
	// ErrPRNotFound indicates the purchase request does not exist.
	ErrPRNotFound = errors.New("procurement: purchase request not found")
	// ErrPONotFound indicates the purchase order does not exist.
	ErrPONotFound = errors.New("procurement: purchase order not found")
	// ErrGRNNotFound indicates the goods receipt does not exist.
	ErrGRNNotFound = errors.New("procurement: grn not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrLineMismatch indicates accepted+rejected does not equal received.
	ErrLineMismatch = errors.New("procurement: accepted and rejected quantities must sum to received")
	// ErrLineNotOnOrder indicates a received material absent from the order.
	ErrLineNotOnOrder = errors.New("procurement: received material is not on the purchase order")
	// ErrAlreadyApplied indicates stock was already posted for the receipt.
	ErrAlreadyApplied = errors.New("procurement: stock already applied for this grn")
	// ErrNothingToApply indicates the receipt has no accepted quantity.
	ErrNothingToApply = errors.New("procurement: no accepted quantity to apply")
)
