package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, materialID uuid.UUID) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	ListTransactions(ctx context.Context, materialID uuid.UUID) ([]StockTransaction, error)
	HasOpenReferences(ctx context.Context, materialID uuid.UUID) (bool, error)
}

// TxRepository exposes transactional operations used by the service.
// Every mutation runs against an item row locked FOR UPDATE, so two concurrent
// stock-outs can never both pass the sufficiency check on a stale balance.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, materialID uuid.UUID) (Item, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateItemLevels(ctx context.Context, materialID uuid.UUID, stock, avgRate, totalValue float64) error
	InsertTransaction(ctx context.Context, tx StockTransaction) error
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (StockTransaction, error)
	DeleteTransaction(ctx context.Context, id uuid.UUID) error
	DeleteItem(ctx context.Context, materialID uuid.UUID) error
}

// CatalogPort resolves material references through the material catalog.
type CatalogPort interface {
	ResolveMaterial(ctx context.Context, ref masterdata.MaterialRef) (masterdata.Material, error)
	EnsureMaterial(ctx context.Context, name, category, unit string) (masterdata.Material, bool, error)
}

// SequencePort allocates document numbers.
type SequencePort interface {
	Next(ctx context.Context, kind sequence.Kind) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the inventory ledger: it owns the weighted-average cost math and
// the append-only stock transaction log.
type Service struct {
	repo      RepositoryPort
	catalog   CatalogPort
	sequences SequencePort
	audit     AuditPort
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, sequences SequencePort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: catalog, sequences: sequences, audit: audit, now: time.Now}
}

// ApplyStockIn posts an inbound movement. Unknown materials referenced by name
// are created lazily with a generated code and a zero baseline. The weighted
// average rate is recomputed as (stock*rate + qty*inRate) / (stock + qty).
func (s *Service) ApplyStockIn(ctx context.Context, input StockInInput) (Item, StockTransaction, error) {
	if input.Quantity <= 0 {
		return Item{}, StockTransaction{}, ErrInvalidQuantity
	}
	if input.Rate < 0 {
		return Item{}, StockTransaction{}, ErrInvalidRate
	}
	if err := input.Ref.Validate(); err != nil {
		return Item{}, StockTransaction{}, err
	}

	material, err := s.resolveOrCreateMaterial(ctx, input.Material)
	if err != nil {
		return Item{}, StockTransaction{}, err
	}

	var (
		item  Item
		entry StockTransaction
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err = s.itemForUpdate(ctx, tx, material, input.Warehouse)
		if err != nil {
			return err
		}
		newStock := item.CurrentStock + input.Quantity
		newRate := item.AverageRate
		if newStock > 0 {
			newRate = (item.CurrentStock*item.AverageRate + input.Quantity*input.Rate) / newStock
		}
		item.CurrentStock = newStock
		item.AverageRate = newRate
		item.TotalValue = newStock * newRate
		item.UpdatedAt = s.now().UTC()
		if err := tx.UpdateItemLevels(ctx, item.MaterialID, item.CurrentStock, item.AverageRate, item.TotalValue); err != nil {
			return err
		}
		entry, err = s.appendTransaction(ctx, tx, item, TransactionTypeIn, input.Quantity, input.Rate, input.Ref, input.ActorID)
		return err
	})
	if err != nil {
		return Item{}, StockTransaction{}, err
	}
	s.recordAudit(ctx, input.ActorID, "STOCK_IN", item.MaterialID, map[string]any{
		"qty": input.Quantity, "rate": input.Rate, "balance": item.CurrentStock, "tx": entry.Number,
	})
	return item, entry, nil
}

// ApplyStockOut posts an outbound movement. The sufficiency check runs against
// the row locked in the same transaction; the average rate is unchanged.
func (s *Service) ApplyStockOut(ctx context.Context, input StockOutInput) (Item, StockTransaction, error) {
	if input.Quantity <= 0 {
		return Item{}, StockTransaction{}, ErrInvalidQuantity
	}
	if input.MaterialID == uuid.Nil {
		return Item{}, StockTransaction{}, ErrItemNotFound
	}
	if err := input.Ref.Validate(); err != nil {
		return Item{}, StockTransaction{}, err
	}

	var (
		item  Item
		entry StockTransaction
		err   error
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err = tx.GetItemForUpdate(ctx, input.MaterialID)
		if err != nil {
			return err
		}
		if input.Quantity > item.CurrentStock {
			return InsufficientStockError{MaterialID: item.MaterialID, Available: item.CurrentStock, Requested: input.Quantity}
		}
		item.CurrentStock -= input.Quantity
		item.TotalValue = item.CurrentStock * item.AverageRate
		item.UpdatedAt = s.now().UTC()
		if err := tx.UpdateItemLevels(ctx, item.MaterialID, item.CurrentStock, item.AverageRate, item.TotalValue); err != nil {
			return err
		}
		entry, err = s.appendTransaction(ctx, tx, item, TransactionTypeOut, input.Quantity, 0, input.Ref, input.ActorID)
		return err
	})
	if err != nil {
		return Item{}, StockTransaction{}, err
	}
	s.recordAudit(ctx, input.ActorID, "STOCK_OUT", item.MaterialID, map[string]any{
		"qty": input.Quantity, "balance": item.CurrentStock, "tx": entry.Number,
	})
	return item, entry, nil
}

// ReverseStockIn compensates a previously applied inbound entry, used on GRN
// deletion. The balance is decremented by the original quantity, clamped at
// zero, and the ledger row is deleted rather than countered. This trades the
// audit trail for exact reversal semantics.
func (s *Service) ReverseStockIn(ctx context.Context, transactionID uuid.UUID, actorID uuid.UUID) (Item, error) {
	if transactionID == uuid.Nil {
		return Item{}, ErrTransactionNotFound
	}
	var (
		item  Item
		entry StockTransaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if entry.Type != TransactionTypeIn {
			return ErrNotStockIn
		}
		item, err = tx.GetItemForUpdate(ctx, entry.MaterialID)
		if err != nil {
			return err
		}
		newStock := item.CurrentStock - entry.Quantity
		if newStock < 0 {
			newStock = 0
		}
		item.CurrentStock = newStock
		item.TotalValue = newStock * item.AverageRate
		item.UpdatedAt = s.now().UTC()
		if err := tx.UpdateItemLevels(ctx, item.MaterialID, item.CurrentStock, item.AverageRate, item.TotalValue); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, transactionID)
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, actorID, "STOCK_IN_REVERSED", item.MaterialID, map[string]any{
		"qty": entry.Quantity, "balance": item.CurrentStock, "tx": entry.Number,
	})
	return item, nil
}

// Availability reports the current stock for a material. Unknown materials
// report zero with known=false.
func (s *Service) Availability(ctx context.Context, materialID uuid.UUID) (float64, bool, error) {
	item, err := s.repo.GetItem(ctx, materialID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return item.CurrentStock, true, nil
}

// AddMaterialInput describes an explicit catalog/ledger registration.
type AddMaterialInput struct {
	Name         string
	Category     string
	Unit         string
	ReorderLevel float64
	Warehouse    string
	ActorID      uuid.UUID
}

// AddOrGetMaterial registers a material in the catalog and ensures a ledger
// item exists for it, returning the existing item when already present.
func (s *Service) AddOrGetMaterial(ctx context.Context, input AddMaterialInput) (Item, bool, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Item{}, false, fmt.Errorf("inventory: material name required: %w", masterdata.ErrValidation)
	}
	material, _, err := s.catalog.EnsureMaterial(ctx, input.Name, input.Category, input.Unit)
	if err != nil {
		return Item{}, false, err
	}
	item, err := s.repo.GetItem(ctx, material.ID)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return Item{}, false, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err = s.createItem(ctx, tx, material, input.Warehouse, input.ReorderLevel)
		return err
	})
	if db.IsUniqueViolation(err) {
		// Lost the race: a concurrent add registered the item first. Reuse it.
		item, err = s.repo.GetItem(ctx, material.ID)
		return item, false, err
	}
	if err != nil {
		return Item{}, false, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_ADD", item.MaterialID, map[string]any{"code": item.Code, "name": item.Name})
	return item, true, nil
}

// GetItem returns the ledger row for a material.
func (s *Service) GetItem(ctx context.Context, materialID uuid.UUID) (Item, error) {
	return s.repo.GetItem(ctx, materialID)
}

// ListMaterials lists ledger items with filtering and pagination.
func (s *Service) ListMaterials(ctx context.Context, filter ItemFilter) ([]Item, shared.Pagination, error) {
	items, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListTransactions returns the ledger entries for a material in replay order.
func (s *Service) ListTransactions(ctx context.Context, materialID uuid.UUID) ([]StockTransaction, error) {
	if _, err := s.repo.GetItem(ctx, materialID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, materialID)
}

// DeleteItem removes a ledger row that has no open references.
func (s *Service) DeleteItem(ctx context.Context, materialID uuid.UUID, actorID uuid.UUID) error {
	if _, err := s.repo.GetItem(ctx, materialID); err != nil {
		return err
	}
	referenced, err := s.repo.HasOpenReferences(ctx, materialID)
	if err != nil {
		return err
	}
	if referenced {
		return ErrItemReferenced
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteItem(ctx, materialID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "MATERIAL_DELETE", materialID, nil)
	return nil
}

func (s *Service) resolveOrCreateMaterial(ctx context.Context, input MaterialInput) (masterdata.Material, error) {
	if input.ID != uuid.Nil {
		return s.catalog.ResolveMaterial(ctx, masterdata.MaterialRef{ID: input.ID})
	}
	material, err := s.catalog.ResolveMaterial(ctx, masterdata.MaterialRef{Name: input.Name})
	if err == nil {
		return material, nil
	}
	if !errors.Is(err, masterdata.ErrMaterialNotFound) {
		return masterdata.Material{}, err
	}
	material, _, err = s.catalog.EnsureMaterial(ctx, input.Name, input.Category, defaultUnit(input.Unit))
	return material, err
}

// itemForUpdate locks the ledger row, creating it with a zero baseline when
// the material has never been stocked.
func (s *Service) itemForUpdate(ctx context.Context, tx TxRepository, material masterdata.Material, warehouse string) (Item, error) {
	item, err := tx.GetItemForUpdate(ctx, material.ID)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return Item{}, err
	}
	return s.createItem(ctx, tx, material, warehouse, 0)
}

func (s *Service) createItem(ctx context.Context, tx TxRepository, material masterdata.Material, warehouse string, reorderLevel float64) (Item, error) {
	code, err := s.sequences.Next(ctx, sequence.Material)
	if err != nil {
		return Item{}, err
	}
	item := Item{
		MaterialID:   material.ID,
		Code:         code,
		Name:         material.Name,
		Category:     material.Category,
		Unit:         material.Unit,
		ReorderLevel: reorderLevel,
		Warehouse:    defaultWarehouse(warehouse),
		UpdatedAt:    s.now().UTC(),
	}
	if err := tx.InsertItem(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *Service) appendTransaction(ctx context.Context, tx TxRepository, item Item, txType TransactionType, qty, rate float64, ref DocumentRef, actorID uuid.UUID) (StockTransaction, error) {
	number, err := s.sequences.Next(ctx, sequence.StockTransaction)
	if err != nil {
		return StockTransaction{}, err
	}
	entry := StockTransaction{
		ID:           uuid.New(),
		Number:       number,
		Type:         txType,
		MaterialID:   item.MaterialID,
		MaterialName: item.Name,
		Quantity:     qty,
		Unit:         item.Unit,
		Rate:         rate,
		GRNID:        ref.GRNID,
		IndentID:     ref.IndentID,
		ActorID:      actorID,
		OccurredAt:   s.now().UTC(),
		BalanceAfter: item.CurrentStock,
	}
	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return StockTransaction{}, err
	}
	return entry, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, action string, materialID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_item",
		EntityID: materialID.String(),
		Meta:     meta,
	})
}

func defaultUnit(unit string) string {
	if unit == "" {
		return "unit"
	}
	return unit
}

func defaultWarehouse(warehouse string) string {
	if warehouse == "" {
		return "Main Store"
	}
	return warehouse
}
