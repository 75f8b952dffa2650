package procurement

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id uuid.UUID) (PurchaseRequest, error)
	GetPRByIndent(ctx context.Context, indentID uuid.UUID) (PurchaseRequest, error)
	ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequest, int, error)
	FulfillPRs(ctx context.Context, materialID uuid.UUID) (int, error)
	GetPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error)
	GetGRN(ctx context.Context, id uuid.UUID) (GRN, error)
	ListGRNs(ctx context.Context, filter GRNFilter) ([]GRN, int, error)
}

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	InsertPR(ctx context.Context, pr PurchaseRequest) error
	InsertGRN(ctx context.Context, grn GRN) error
	GetGRNForUpdate(ctx context.Context, id uuid.UUID) (GRN, error)
	MarkGRNApplied(ctx context.Context, grn GRN) error
	DeleteGRN(ctx context.Context, id uuid.UUID) error
	GetPOForUpdate(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	UpdatePOItemReceived(ctx context.Context, itemID uuid.UUID, receivedQty float64) error
	UpdatePOStatus(ctx context.Context, id uuid.UUID, status string) error
}

// InventoryPort is the ledger surface the receipt processor drives.
type InventoryPort interface {
	ApplyStockIn(ctx context.Context, input inventory.StockInInput) (inventory.Item, inventory.StockTransaction, error)
	ReverseStockIn(ctx context.Context, transactionID uuid.UUID, actorID uuid.UUID) (inventory.Item, error)
	Availability(ctx context.Context, materialID uuid.UUID) (float64, bool, error)
}

// IndentSweepPort promotes pending-purchase indents once stock lands.
// Implemented by the indent service.
type IndentSweepPort interface {
	PromotePending(ctx context.Context, materialID uuid.UUID, available float64) (int, error)
}

// SequencePort allocates document numbers.
type SequencePort interface {
	Next(ctx context.Context, kind sequence.Kind) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards apply-stock against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service implements purchase request escalation and GRN intake.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	sweep       IndentSweepPort
	sequences   SequencePort
	audit       AuditPort
	idempotency IdempotencyPort
	now         func() time.Time
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, sweep IndentSweepPort, sequences SequencePort, audit AuditPort, idempotency IdempotencyPort) *Service {
	return &Service{
		repo:        repo,
		inventory:   inv,
		sweep:       sweep,
		sequences:   sequences,
		audit:       audit,
		idempotency: idempotency,
		now:         time.Now,
	}
}

// SetIndentSweep injects the promotion sweep once both services exist. The
// wiring is circular: indent shortages escalate into procurement, and applied
// stock promotes indents back.
func (s *Service) SetIndentSweep(sweep IndentSweepPort) {
	s.sweep = sweep
}

// EscalateInput describes an indent shortage to raise a purchase request for.
type EscalateInput struct {
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

// Escalate raises a purchase request for an indent shortage, or returns the
// existing one unchanged. The unique index on indent_id makes the race between
// concurrent re-checks resolve to a single request.
func (s *Service) Escalate(ctx context.Context, input EscalateInput) (PurchaseRequest, error) {
	if input.IndentID == uuid.Nil || input.Quantity <= 0 {
		return PurchaseRequest{}, ErrValidation
	}
	existing, err := s.repo.GetPRByIndent(ctx, input.IndentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrPRNotFound) {
		return PurchaseRequest{}, err
	}

	number, err := s.sequences.Next(ctx, sequence.PurchaseRequest)
	if err != nil {
		return PurchaseRequest{}, err
	}
	now := s.now().UTC()
	pr := PurchaseRequest{
		ID:           uuid.New(),
		Number:       number,
		IndentID:     input.IndentID,
		IndentNumber: input.IndentNumber,
		SiteID:       input.SiteID,
		MaterialID:   input.MaterialID,
		MaterialName: input.MaterialName,
		Quantity:     input.Quantity,
		Unit:         input.Unit,
		Priority:     input.Priority,
		RequiredBy:   input.RequiredBy,
		Status:       PRStatusPendingQuotation,
		RaisedBy:     input.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPR(ctx, pr)
	})
	if db.IsUniqueViolation(err) {
		// Lost the race: another check escalated first. Reuse its request.
		return s.repo.GetPRByIndent(ctx, input.IndentID)
	}
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordAudit(ctx, input.ActorID, "PR_ESCALATE", "purchase_request", pr.ID, map[string]any{
		"number": pr.Number, "indent": pr.IndentNumber, "qty": pr.Quantity,
	})
	return pr, nil
}

// GetPR returns a single purchase request.
func (s *Service) GetPR(ctx context.Context, id uuid.UUID) (PurchaseRequest, error) {
	return s.repo.GetPR(ctx, id)
}

// ListPRs returns purchase requests matching the filter.
func (s *Service) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequest, shared.Pagination, error) {
	items, total, err := s.repo.ListPRs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ReceiveLine is one line of an incoming receipt.
type ReceiveLine struct {
	MaterialID  uuid.UUID
	ReceivedQty float64
	AcceptedQty float64
	RejectedQty float64
	Remarks     string
}

// ReceiveInput describes a goods receipt against a purchase order.
type ReceiveInput struct {
	OrderID       uuid.UUID
	OrderNumber   string
	ReceivedBy    uuid.UUID
	VehicleNumber string
	Remarks       string
	Lines         []ReceiveLine
	ActorID       uuid.UUID
}

const qtyEpsilon = 1e-9

// Receive records a goods receipt. Status derives from the accepted vs
// rejected split, stock is NOT posted here, and the purchase order's
// fulfillment rolls forward line by line.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (GRN, error) {
	if len(input.Lines) == 0 {
		return GRN{}, ErrValidation
	}
	po, err := s.lookupOrder(ctx, input)
	if err != nil {
		return GRN{}, err
	}

	items := make([]GRNItem, 0, len(input.Lines))
	for _, line := range input.Lines {
		if line.ReceivedQty <= 0 || line.AcceptedQty < 0 || line.RejectedQty < 0 {
			return GRN{}, ErrValidation
		}
		if math.Abs(line.AcceptedQty+line.RejectedQty-line.ReceivedQty) > qtyEpsilon {
			return GRN{}, ErrLineMismatch
		}
		poItem, ok := po.Item(line.MaterialID)
		if !ok {
			return GRN{}, ErrLineNotOnOrder
		}
		items = append(items, GRNItem{
			ID:           uuid.New(),
			MaterialID:   poItem.MaterialID,
			MaterialName: poItem.MaterialName,
			Unit:         poItem.Unit,
			ReceivedQty:  line.ReceivedQty,
			AcceptedQty:  line.AcceptedQty,
			RejectedQty:  line.RejectedQty,
			Rate:         poItem.Rate,
			Remarks:      strings.TrimSpace(line.Remarks),
		})
	}

	number, err := s.sequences.Next(ctx, sequence.GoodsReceipt)
	if err != nil {
		return GRN{}, err
	}
	now := s.now().UTC()
	grn := GRN{
		ID:            uuid.New(),
		Number:        number,
		OrderID:       po.ID,
		OrderNumber:   po.Number,
		VendorName:    po.VendorName,
		ReceivedBy:    input.ReceivedBy,
		ReceivedAt:    now,
		VehicleNumber: strings.TrimSpace(input.VehicleNumber),
		Remarks:       strings.TrimSpace(input.Remarks),
		Status:        DeriveStatus(items),
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i := range grn.Items {
		grn.Items[i].GRNID = grn.ID
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertGRN(ctx, grn); err != nil {
			return err
		}
		return s.rollOrderFulfillment(ctx, tx, po.ID, grn.Items, +1)
	})
	if err != nil {
		return GRN{}, err
	}
	s.recordAudit(ctx, input.ActorID, "GRN_RECEIVE", "grn", grn.ID, map[string]any{
		"number": grn.Number, "order": grn.OrderNumber, "status": grn.Status,
	})
	return grn, nil
}

// ApplyStock posts the accepted quantities of a receipt into the inventory
// ledger at the contracted rates, exactly once. Ledger postings commit per
// line; a failure after some lines have posted reverses those postings before
// the retry guard is released. After the commit it runs the pending-indent
// promotion sweep for each affected material.
func (s *Service) ApplyStock(ctx context.Context, grnID uuid.UUID, actorID uuid.UUID) (GRN, error) {
	current, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return GRN{}, err
	}
	key := "GRN:" + current.Number
	if err := s.checkIdempotency(ctx, key); err != nil {
		return GRN{}, err
	}

	var grn GRN
	var posted []uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, err = tx.GetGRNForUpdate(ctx, grnID)
		if err != nil {
			return err
		}
		if grn.StockUpdated {
			return ErrAlreadyApplied
		}
		totalAccepted := 0.0
		for _, item := range grn.Items {
			totalAccepted += item.AcceptedQty
		}
		if totalAccepted <= qtyEpsilon {
			return ErrNothingToApply
		}
		for i, item := range grn.Items {
			if item.AcceptedQty <= 0 {
				continue
			}
			_, entry, err := s.inventory.ApplyStockIn(ctx, inventory.StockInInput{
				Material: inventory.MaterialInput{ID: item.MaterialID, Name: item.MaterialName, Unit: item.Unit},
				Quantity: item.AcceptedQty,
				Rate:     item.Rate,
				Ref:      inventory.DocumentRef{GRNID: grn.ID},
				ActorID:  actorID,
			})
			if err != nil {
				return err
			}
			posted = append(posted, entry.ID)
			grn.Items[i].TransactionID = entry.ID
		}
		grn.StockUpdated = true
		grn.UpdatedAt = s.now().UTC()
		return tx.MarkGRNApplied(ctx, grn)
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyApplied) {
			// Already-posted lines must come back out of the ledger before a
			// retry is allowed. If a reversal fails, the key stays and keeps
			// the receipt locked until the ledger is reconciled.
			if s.reversePosted(ctx, posted, actorID) && s.idempotency != nil {
				_ = s.idempotency.Delete(ctx, key)
			}
		}
		return GRN{}, err
	}

	s.promoteCovered(ctx, grn)
	s.recordAudit(ctx, actorID, "GRN_APPLY_STOCK", "grn", grn.ID, map[string]any{"number": grn.Number})
	return grn, nil
}

// reversePosted backs out ledger entries that committed before an apply-stock
// failure, newest first. Reports whether every entry was reversed.
func (s *Service) reversePosted(ctx context.Context, posted []uuid.UUID, actorID uuid.UUID) bool {
	reversed := true
	for i := len(posted) - 1; i >= 0; i-- {
		if _, err := s.inventory.ReverseStockIn(ctx, posted[i], actorID); err != nil &&
			!errors.Is(err, inventory.ErrTransactionNotFound) {
			reversed = false
		}
	}
	return reversed
}

// Delete removes a receipt. If stock was applied, every posted transaction is
// reversed first; only then does the record go away, so the ledger never
// carries a receipt-less balance.
func (s *Service) Delete(ctx context.Context, grnID uuid.UUID, actorID uuid.UUID) error {
	grn, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return err
	}
	if grn.StockUpdated {
		for _, item := range grn.Items {
			if item.TransactionID == uuid.Nil {
				continue
			}
			if _, err := s.inventory.ReverseStockIn(ctx, item.TransactionID, actorID); err != nil &&
				!errors.Is(err, inventory.ErrTransactionNotFound) {
				return err
			}
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.rollOrderFulfillment(ctx, tx, grn.OrderID, grn.Items, -1); err != nil {
			return err
		}
		return tx.DeleteGRN(ctx, grnID)
	})
	if err != nil {
		return err
	}
	if s.idempotency != nil {
		_ = s.idempotency.Delete(ctx, "GRN:"+grn.Number)
	}
	s.recordAudit(ctx, actorID, "GRN_DELETE", "grn", grnID, map[string]any{"number": grn.Number})
	return nil
}

// GetGRN returns a single receipt with its lines.
func (s *Service) GetGRN(ctx context.Context, id uuid.UUID) (GRN, error) {
	return s.repo.GetGRN(ctx, id)
}

// ListGRNs returns receipts matching the filter.
func (s *Service) ListGRNs(ctx context.Context, filter GRNFilter) ([]GRN, shared.Pagination, error) {
	items, total, err := s.repo.ListGRNs(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetPO returns a purchase order with its lines.
func (s *Service) GetPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

func (s *Service) lookupOrder(ctx context.Context, input ReceiveInput) (PurchaseOrder, error) {
	if input.OrderID != uuid.Nil {
		return s.repo.GetPO(ctx, input.OrderID)
	}
	if strings.TrimSpace(input.OrderNumber) != "" {
		return s.repo.GetPOByNumber(ctx, strings.TrimSpace(input.OrderNumber))
	}
	return PurchaseOrder{}, ErrValidation
}

// rollOrderFulfillment adjusts PO line received quantities by the receipt's
// lines (direction +1 on receive, -1 on delete) and recomputes the order
// status.
func (s *Service) rollOrderFulfillment(ctx context.Context, tx TxRepository, orderID uuid.UUID, items []GRNItem, direction float64) error {
	po, err := tx.GetPOForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	received := make(map[uuid.UUID]float64, len(items))
	for _, item := range items {
		received[item.MaterialID] += item.ReceivedQty * direction
	}
	fulfilled := true
	anyReceived := false
	for _, poItem := range po.Items {
		qty := poItem.ReceivedQty + received[poItem.MaterialID]
		if qty < 0 {
			qty = 0
		}
		if delta, ok := received[poItem.MaterialID]; ok && delta != 0 {
			if err := tx.UpdatePOItemReceived(ctx, poItem.ID, qty); err != nil {
				return err
			}
		}
		if qty > 0 {
			anyReceived = true
		}
		if qty+qtyEpsilon < poItem.OrderedQty {
			fulfilled = false
		}
	}
	status := POStatusOpen
	switch {
	case fulfilled && anyReceived:
		status = POStatusFulfilled
	case anyReceived:
		status = POStatusPartiallyReceived
	}
	if status != po.Status {
		return tx.UpdatePOStatus(ctx, orderID, status)
	}
	return nil
}

// promoteCovered runs the pending-indent sweep for each material the receipt
// stocked in. Best-effort: the periodic job re-runs it.
func (s *Service) promoteCovered(ctx context.Context, grn GRN) {
	if s.sweep == nil {
		return
	}
	seen := map[uuid.UUID]bool{}
	for _, item := range grn.Items {
		if item.AcceptedQty <= 0 || seen[item.MaterialID] {
			continue
		}
		seen[item.MaterialID] = true
		available, known, err := s.inventory.Availability(ctx, item.MaterialID)
		if err != nil || !known {
			continue
		}
		promoted, err := s.sweep.PromotePending(ctx, item.MaterialID, available)
		if err != nil || promoted == 0 {
			continue
		}
		// Requests whose indents left Pending Purchase are now served.
		_, _ = s.repo.FulfillPRs(ctx, item.MaterialID)
	}
}

func (s *Service) checkIdempotency(ctx context.Context, key string) error {
	if s.idempotency == nil {
		return nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, "procurement"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return ErrAlreadyApplied
		}
		return err
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action, entity string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID.String(),
		Meta:     meta,
	})
}
