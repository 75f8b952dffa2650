package indent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Indent, error)
	List(ctx context.Context, filter Filter) ([]Indent, int, error)
	PendingPurchaseMaterials(ctx context.Context) ([]uuid.UUID, error)
}

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	Insert(ctx context.Context, ind Indent) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Indent, error)
	Update(ctx context.Context, ind Indent) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPendingPurchaseForUpdate(ctx context.Context, materialID uuid.UUID) ([]Indent, error)
}

// InventoryPort exposes the required inventory ledger integration.
type InventoryPort interface {
	Availability(ctx context.Context, materialID uuid.UUID) (float64, bool, error)
	ApplyStockOut(ctx context.Context, input inventory.StockOutInput) (inventory.Item, inventory.StockTransaction, error)
}

// Escalation summarises the purchase request linked to an indent.
type Escalation struct {
	ID     uuid.UUID
	Number string
}

// EscalationRequest carries everything the escalator needs to raise a
// purchase request for an under-stocked indent.
type EscalationRequest struct {
	IndentID     uuid.UUID
	IndentNumber string
	SiteID       uuid.UUID
	MaterialID   uuid.UUID
	MaterialName string
	Quantity     float64
	Unit         string
	Priority     string
	RequiredBy   time.Time
	ActorID      uuid.UUID
}

// EscalatorPort raises purchase requests. Escalate must be idempotent per
// indent: an existing request is returned unchanged.
type EscalatorPort interface {
	Escalate(ctx context.Context, req EscalationRequest) (Escalation, error)
}

// DirectoryPort resolves sites and employees for attribution.
type DirectoryPort interface {
	GetSite(ctx context.Context, id uuid.UUID) (masterdata.Site, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (masterdata.Employee, error)
}

// CatalogPort resolves material references.
type CatalogPort interface {
	ResolveMaterial(ctx context.Context, ref masterdata.MaterialRef) (masterdata.Material, error)
}

// SequencePort allocates indent numbers.
type SequencePort interface {
	Next(ctx context.Context, kind sequence.Kind) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approve/reject history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service drives the indent lifecycle, orchestrating the inventory ledger,
// the purchase request escalator and the sequence generator.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	escalator EscalatorPort
	directory DirectoryPort
	catalog   CatalogPort
	sequences SequencePort
	audit     AuditPort
	approvals ApprovalPort
	now       func() time.Time
}

// NewService constructs the indent service.
func NewService(repo RepositoryPort, inv InventoryPort, escalator EscalatorPort, directory DirectoryPort, catalog CatalogPort, sequences SequencePort, audit AuditPort, approvals ApprovalPort) *Service {
	return &Service{
		repo:      repo,
		inventory: inv,
		escalator: escalator,
		directory: directory,
		catalog:   catalog,
		sequences: sequences,
		audit:     audit,
		approvals: approvals,
		now:       time.Now,
	}
}

// RaiseInput describes a new material request.
type RaiseInput struct {
	SiteID       uuid.UUID
	MaterialID   uuid.UUID
	MaterialName string
	Quantity     float64
	Unit         string
	Priority     string
	RequestedBy  uuid.UUID
	ExpectedBy   time.Time
}

// Raise creates an indent in Pending Approval.
func (s *Service) Raise(ctx context.Context, input RaiseInput) (Indent, error) {
	if input.Quantity <= 0 {
		return Indent{}, ErrValidation
	}
	if input.ExpectedBy.IsZero() {
		return Indent{}, ErrValidation
	}
	priority := input.Priority
	if priority == "" {
		priority = "Medium"
	}
	if !ValidPriority(priority) {
		return Indent{}, ErrValidation
	}

	site, err := s.directory.GetSite(ctx, input.SiteID)
	if err != nil {
		return Indent{}, err
	}
	requester, err := s.directory.GetEmployee(ctx, input.RequestedBy)
	if err != nil {
		return Indent{}, err
	}
	material, err := s.catalog.ResolveMaterial(ctx, masterdata.MaterialRef{ID: input.MaterialID, Name: strings.TrimSpace(input.MaterialName)})
	if err != nil {
		return Indent{}, err
	}

	number, err := s.sequences.Next(ctx, sequence.Indent)
	if err != nil {
		return Indent{}, err
	}
	unit := input.Unit
	if unit == "" {
		unit = material.Unit
	}
	now := s.now().UTC()
	ind := Indent{
		ID:           uuid.New(),
		Number:       number,
		SiteID:       site.ID,
		SiteName:     site.Name,
		MaterialID:   material.ID,
		MaterialName: material.Name,
		Quantity:     input.Quantity,
		Unit:         unit,
		Priority:     priority,
		RequestedBy:  requester.ID,
		Requester:    requester.Name,
		ExpectedBy:   input.ExpectedBy,
		Status:       StatusPendingApproval,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, ind)
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, input.RequestedBy, "INDENT_RAISE", ind.ID, map[string]any{"number": ind.Number, "material": ind.MaterialName, "qty": ind.Quantity})
	return ind, nil
}

// DecisionInput carries an approval or rejection.
type DecisionInput struct {
	Approve bool
	Reason  string
	ActorID uuid.UUID
}

// Decide approves or rejects an indent. Only legal from Pending Approval;
// rejection requires a reason.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, input DecisionInput) (Indent, error) {
	action := ActionApprove
	if !input.Approve {
		action = ActionReject
		if strings.TrimSpace(input.Reason) == "" {
			return Indent{}, ErrReasonRequired
		}
	}
	approver, err := s.directory.GetEmployee(ctx, input.ActorID)
	if err != nil {
		return Indent{}, err
	}

	var ind Indent
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ind, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transition(ind.Status, action)
		if err != nil {
			return err
		}
		ind.Status = next
		ind.ApprovedBy = approver.ID
		ind.ApprovedAt = s.now().UTC()
		ind.RejectionReason = strings.TrimSpace(input.Reason)
		ind.UpdatedAt = ind.ApprovedAt
		return tx.Update(ctx, ind)
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordApproval(ctx, ind, input)
	s.recordAudit(ctx, input.ActorID, "INDENT_"+strings.ToUpper(string(action)), ind.ID, map[string]any{"number": ind.Number})
	return ind, nil
}

// CheckInventory compares requested quantity against on-hand stock and either
// marks the indent ready to issue or escalates the shortage into a purchase
// request. Escalation is idempotent: re-checks reuse the existing request and
// only refresh the snapshot fields.
func (s *Service) CheckInventory(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (Indent, error) {
	ind, err := s.repo.Get(ctx, id)
	if err != nil {
		return Indent{}, err
	}

	available, _, err := s.inventory.Availability(ctx, ind.MaterialID)
	if err != nil {
		return Indent{}, err
	}
	action := ActionCheckAvailable
	shortage := 0.0
	if available < ind.Quantity {
		action = ActionCheckShortage
		shortage = ind.Quantity - available
	}
	// Fail fast on an illegal state before any side effect.
	if _, err := Transition(ind.Status, action); err != nil {
		return Indent{}, err
	}

	var escalation Escalation
	if shortage > 0 {
		escalation, err = s.escalator.Escalate(ctx, EscalationRequest{
			IndentID:     ind.ID,
			IndentNumber: ind.Number,
			SiteID:       ind.SiteID,
			MaterialID:   ind.MaterialID,
			MaterialName: ind.MaterialName,
			Quantity:     shortage,
			Unit:         ind.Unit,
			Priority:     ind.Priority,
			RequiredBy:   ind.ExpectedBy,
			ActorID:      actorID,
		})
		if err != nil {
			return Indent{}, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ind, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transition(ind.Status, action)
		if err != nil {
			return err
		}
		ind.Status = next
		ind.AvailableStock = available
		ind.ShortageQuantity = shortage
		ind.CheckedBy = actorID
		ind.CheckedAt = s.now().UTC()
		ind.UpdatedAt = ind.CheckedAt
		if escalation.ID != uuid.Nil {
			ind.PurchaseRequestID = escalation.ID
		}
		return tx.Update(ctx, ind)
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, actorID, "INDENT_CHECK", ind.ID, map[string]any{
		"number": ind.Number, "available": available, "shortage": shortage, "status": string(ind.Status),
	})
	return ind, nil
}

// Issue stocks out the requested quantity and completes the indent. The
// sufficiency check is re-validated inside the ledger transaction, so a
// balance depleted since the inventory check fails here rather than going
// silently negative.
func (s *Service) Issue(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (Indent, error) {
	var ind Indent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ind, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transition(ind.Status, ActionIssue)
		if err != nil {
			return err
		}
		if _, _, err := s.inventory.ApplyStockOut(ctx, inventory.StockOutInput{
			MaterialID: ind.MaterialID,
			Quantity:   ind.Quantity,
			Ref:        inventory.DocumentRef{IndentID: ind.ID},
			ActorID:    actorID,
		}); err != nil {
			return err
		}
		ind.Status = next
		ind.IssuedQuantity = ind.Quantity
		ind.IssuedAt = s.now().UTC()
		ind.UpdatedAt = ind.IssuedAt
		return tx.Update(ctx, ind)
	})
	if err != nil {
		return Indent{}, err
	}
	s.recordAudit(ctx, actorID, "INDENT_ISSUE", ind.ID, map[string]any{"number": ind.Number, "qty": ind.IssuedQuantity})
	return ind, nil
}

// PromotePending moves Pending Purchase indents for the material to Ready to
// Issue when the new available stock fully covers them. Best-effort: Issue
// re-validates stock, so racing a manual check is harmless.
func (s *Service) PromotePending(ctx context.Context, materialID uuid.UUID, available float64) (int, error) {
	promoted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pending, err := tx.ListPendingPurchaseForUpdate(ctx, materialID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, ind := range pending {
			if ind.Quantity > available {
				continue
			}
			next, err := Transition(ind.Status, ActionPromote)
			if err != nil {
				continue
			}
			ind.Status = next
			ind.AvailableStock = available
			ind.ShortageQuantity = 0
			ind.UpdatedAt = now
			if err := tx.Update(ctx, ind); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		s.recordAudit(ctx, uuid.Nil, "INDENT_PROMOTE", materialID, map[string]any{"promoted": promoted, "available": available})
	}
	return promoted, nil
}

// ReconcilePending sweeps every material with Pending Purchase indents and
// promotes those now covered by on-hand stock. Invoked periodically from the
// background worker as a backstop for the inline promotion after stock-in.
func (s *Service) ReconcilePending(ctx context.Context) (int, error) {
	materials, err := s.repo.PendingPurchaseMaterials(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, materialID := range materials {
		available, known, err := s.inventory.Availability(ctx, materialID)
		if err != nil {
			return total, err
		}
		if !known || available <= 0 {
			continue
		}
		promoted, err := s.PromotePending(ctx, materialID, available)
		if err != nil {
			return total, err
		}
		total += promoted
	}
	return total, nil
}

// Get returns a single indent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Indent, error) {
	return s.repo.Get(ctx, id)
}

// List returns indents matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Indent, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Delete removes an indent that has not completed. Completed indents are kept:
// their stock-out is final and no compensating reversal is modelled for them.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ind, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ind.Status == StatusCompleted {
			return StateConflictError{Entity: "indent", Current: ind.Status, Action: "delete"}
		}
		number = ind.Number
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "INDENT_DELETE", id, map[string]any{"number": number})
	return nil
}

func (s *Service) recordApproval(ctx context.Context, ind Indent, input DecisionInput) {
	if s.approvals == nil {
		return
	}
	action := shared.ApprovalApprove
	note := "indent " + ind.Number + " approved"
	if !input.Approve {
		action = shared.ApprovalReject
		note = "indent " + ind.Number + " rejected: " + input.Reason
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "INDENT",
		RefID:   ind.ID,
		ActorID: input.ActorID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "indent",
		EntityID: entityID.String(),
		Meta:     meta,
	})
}
