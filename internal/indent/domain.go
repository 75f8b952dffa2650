package indent

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the indent lifecycle.
type Status string

const (
	StatusPendingApproval Status = "Pending Approval"
	StatusApproved        Status = "Approved"
	StatusRejected        Status = "Rejected"
	StatusReadyToIssue    Status = "Ready to Issue"
	StatusPendingPurchase Status = "Pending Purchase"
	StatusCompleted       Status = "Completed"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Action names a workflow step that drives a status transition.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionCheckAvailable Action = "check:available"
	ActionCheckShortage  Action = "check:shortage"
	ActionIssue          Action = "issue"
	ActionPromote        Action = "promote"
)

type transitionKey struct {
	from   Status
	action Action
}

// transitions is the closed table of legal (from, action) → to moves.
// Anything not listed is rejected with StateConflictError.
var transitions = map[transitionKey]Status{
	{StatusPendingApproval, ActionApprove}:        StatusApproved,
	{StatusPendingApproval, ActionReject}:         StatusRejected,
	{StatusApproved, ActionCheckAvailable}:        StatusReadyToIssue,
	{StatusApproved, ActionCheckShortage}:         StatusPendingPurchase,
	{StatusPendingPurchase, ActionCheckAvailable}: StatusReadyToIssue,
	{StatusPendingPurchase, ActionCheckShortage}:  StatusPendingPurchase,
	{StatusPendingPurchase, ActionPromote}:        StatusReadyToIssue,
	{StatusReadyToIssue, ActionIssue}:             StatusCompleted,
}

// Transition resolves the target status for an action, or fails with a
// StateConflictError carrying the current status.
func Transition(from Status, action Action) (Status, error) {
	if to, ok := transitions[transitionKey{from, action}]; ok {
		return to, nil
	}
	return "", StateConflictError{Entity: "indent", Current: from, Action: action}
}

// Priority levels accepted on an indent.
var Priorities = []string{"Low", "Medium", "High", "Urgent"}

// ValidPriority reports whether p is an accepted priority label.
func ValidPriority(p string) bool {
	for _, known := range Priorities {
		if known == p {
			return true
		}
	}
	return false
}

// Indent is a material request raised by a site.
type Indent struct {
	ID           uuid.UUID
	Number       string
	SiteID       uuid.UUID
	SiteName     string
	MaterialID   uuid.UUID
	MaterialName string
	Quantity     float64
	Unit         string
	Priority     string
	RequestedBy  uuid.UUID
	Requester    string
	ExpectedBy   time.Time
	Status       Status

	ApprovedBy      uuid.UUID
	ApprovedAt      time.Time
	RejectionReason string

	AvailableStock   float64
	ShortageQuantity float64
	CheckedBy        uuid.UUID
	CheckedAt        time.Time

	PurchaseRequestID uuid.UUID

	IssuedQuantity float64
	IssuedAt       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows indent listings.
type Filter struct {
	SiteID   uuid.UUID
	Status   Status
	Priority string
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

var (
	// ErrNotFound indicates the indent does not exist.
	ErrNotFound = errors.New("indent: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("indent: invalid input")
	// ErrReasonRequired indicates a rejection without a reason.
	ErrReasonRequired = errors.New("indent: rejection requires a reason")
)

// StateConflictError signals an illegal transition. The response carries the
// entity's actual current status, which may have drifted since the caller
// last observed it.
type StateConflictError struct {
	Entity  string
	Current Status
	Action  Action
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("%s: action %q not allowed in status %q", e.Entity, e.Action, e.Current)
}

// Problem implements httpx.Problemer.
func (e StateConflictError) Problem() (int, string, map[string]any) {
	return http.StatusConflict, "State Conflict", map[string]any{
		"currentStatus": string(e.Current),
		"action":        string(e.Action),
	}
}
