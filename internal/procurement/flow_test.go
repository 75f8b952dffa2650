package procurement

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/indent"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

// The flow tests wire the real inventory, indent and procurement services
// together over in-memory repositories and walk the full shortage cycle:
// raise, approve, check, escalate, receive, apply, promote, issue.

type ledgerRepo struct {
	items map[uuid.UUID]inventory.Item
	txs   []inventory.StockTransaction
}

func newLedgerRepo() *ledgerRepo {
	return &ledgerRepo{items: make(map[uuid.UUID]inventory.Item)}
}

func (r *ledgerRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *ledgerRepo) GetItem(ctx context.Context, materialID uuid.UUID) (inventory.Item, error) {
	if item, ok := r.items[materialID]; ok {
		return item, nil
	}
	return inventory.Item{}, inventory.ErrItemNotFound
}

func (r *ledgerRepo) ListItems(ctx context.Context, filter inventory.ItemFilter) ([]inventory.Item, int, error) {
	var items []inventory.Item
	for _, item := range r.items {
		items = append(items, item)
	}
	return items, len(items), nil
}

func (r *ledgerRepo) ListTransactions(ctx context.Context, materialID uuid.UUID) ([]inventory.StockTransaction, error) {
	var entries []inventory.StockTransaction
	for _, entry := range r.txs {
		if entry.MaterialID == materialID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *ledgerRepo) HasOpenReferences(ctx context.Context, materialID uuid.UUID) (bool, error) {
	return len(r.txs) > 0, nil
}

func (r *ledgerRepo) GetItemForUpdate(ctx context.Context, materialID uuid.UUID) (inventory.Item, error) {
	return r.GetItem(ctx, materialID)
}

func (r *ledgerRepo) InsertItem(ctx context.Context, item inventory.Item) error {
	r.items[item.MaterialID] = item
	return nil
}

func (r *ledgerRepo) UpdateItemLevels(ctx context.Context, materialID uuid.UUID, stock, avgRate, totalValue float64) error {
	item, ok := r.items[materialID]
	if !ok {
		return inventory.ErrItemNotFound
	}
	item.CurrentStock = stock
	item.AverageRate = avgRate
	item.TotalValue = totalValue
	r.items[materialID] = item
	return nil
}

func (r *ledgerRepo) InsertTransaction(ctx context.Context, entry inventory.StockTransaction) error {
	r.txs = append(r.txs, entry)
	return nil
}

func (r *ledgerRepo) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (inventory.StockTransaction, error) {
	for _, entry := range r.txs {
		if entry.ID == id {
			return entry, nil
		}
	}
	return inventory.StockTransaction{}, inventory.ErrTransactionNotFound
}

func (r *ledgerRepo) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	for i, entry := range r.txs {
		if entry.ID == id {
			r.txs = append(r.txs[:i], r.txs[i+1:]...)
			return nil
		}
	}
	return inventory.ErrTransactionNotFound
}

func (r *ledgerRepo) DeleteItem(ctx context.Context, materialID uuid.UUID) error {
	delete(r.items, materialID)
	return nil
}

type indentRepo struct {
	indents map[uuid.UUID]indent.Indent
}

func newIndentRepo() *indentRepo {
	return &indentRepo{indents: make(map[uuid.UUID]indent.Indent)}
}

func (r *indentRepo) WithTx(ctx context.Context, fn func(context.Context, indent.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *indentRepo) Get(ctx context.Context, id uuid.UUID) (indent.Indent, error) {
	if ind, ok := r.indents[id]; ok {
		return ind, nil
	}
	return indent.Indent{}, indent.ErrNotFound
}

func (r *indentRepo) List(ctx context.Context, filter indent.Filter) ([]indent.Indent, int, error) {
	var items []indent.Indent
	for _, ind := range r.indents {
		items = append(items, ind)
	}
	return items, len(items), nil
}

func (r *indentRepo) PendingPurchaseMaterials(ctx context.Context) ([]uuid.UUID, error) {
	var materials []uuid.UUID
	for _, ind := range r.indents {
		if ind.Status == indent.StatusPendingPurchase {
			materials = append(materials, ind.MaterialID)
		}
	}
	return materials, nil
}

func (r *indentRepo) Insert(ctx context.Context, ind indent.Indent) error {
	r.indents[ind.ID] = ind
	return nil
}

func (r *indentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (indent.Indent, error) {
	return r.Get(ctx, id)
}

func (r *indentRepo) Update(ctx context.Context, ind indent.Indent) error {
	r.indents[ind.ID] = ind
	return nil
}

func (r *indentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.indents, id)
	return nil
}

func (r *indentRepo) ListPendingPurchaseForUpdate(ctx context.Context, materialID uuid.UUID) ([]indent.Indent, error) {
	var pending []indent.Indent
	for _, ind := range r.indents {
		if ind.Status == indent.StatusPendingPurchase && ind.MaterialID == materialID {
			pending = append(pending, ind)
		}
	}
	return pending, nil
}

type masterdataStub struct {
	site     masterdata.Site
	employee masterdata.Employee
	material masterdata.Material
}

func (s *masterdataStub) GetSite(ctx context.Context, id uuid.UUID) (masterdata.Site, error) {
	return s.site, nil
}

func (s *masterdataStub) GetEmployee(ctx context.Context, id uuid.UUID) (masterdata.Employee, error) {
	return masterdata.Employee{ID: id, Name: s.employee.Name}, nil
}

func (s *masterdataStub) ResolveMaterial(ctx context.Context, ref masterdata.MaterialRef) (masterdata.Material, error) {
	if ref.ID == s.material.ID || strings.EqualFold(ref.Name, s.material.Name) {
		return s.material, nil
	}
	return masterdata.Material{}, masterdata.ErrMaterialNotFound
}

func (s *masterdataStub) EnsureMaterial(ctx context.Context, name, category, unit string) (masterdata.Material, bool, error) {
	return s.material, false, nil
}

type flowWorld struct {
	inventory *inventory.Service
	indents   *indent.Service
	proc      *Service
	ledger    *ledgerRepo
	procRepo  *memRepo
	po        PurchaseOrder
	material  masterdata.Material
	actor     uuid.UUID
}

func newFlowWorld() *flowWorld {
	stub := &masterdataStub{
		site:     masterdata.Site{ID: uuid.New(), Code: "SITE-A", Name: "Riverside Project"},
		employee: masterdata.Employee{Name: "R. Das"},
		material: masterdata.Material{ID: uuid.New(), Name: "Cement", Category: "Construction Materials", Unit: "bags"},
	}
	seq := &seqStub{}
	ledger := newLedgerRepo()
	invSvc := inventory.NewService(ledger, stub, seq, nil)

	procRepo := newMemRepo()
	procSvc := NewService(procRepo, invSvc, nil, seq, nil, &idemStub{})

	indSvc := indent.NewService(newIndentRepo(), invSvc, NewIndentEscalator(procSvc), stub, stub, seq, nil, nil)
	procSvc.SetIndentSweep(indSvc)

	po := PurchaseOrder{
		ID:         uuid.New(),
		Number:     "PO-2026-0001",
		VendorName: "BuildMart Supplies",
		Status:     POStatusOpen,
		Items: []PurchaseOrderItem{
			{ID: uuid.New(), MaterialID: stub.material.ID, MaterialName: "Cement", Unit: "bags", OrderedQty: 500, Rate: 300},
		},
	}
	po.Items[0].OrderID = po.ID
	procRepo.pos[po.ID] = po

	return &flowWorld{
		inventory: invSvc, indents: indSvc, proc: procSvc,
		ledger: ledger, procRepo: procRepo, po: po,
		material: stub.material, actor: uuid.New(),
	}
}

func TestShortageLifecycle(t *testing.T) {
	w := newFlowWorld()
	ctx := context.Background()

	// A site asks for 50 bags of cement with nothing on hand.
	ind, err := w.indents.Raise(ctx, indent.RaiseInput{
		SiteID:      uuid.New(),
		MaterialID:  w.material.ID,
		Quantity:    50,
		Priority:    "High",
		RequestedBy: w.actor,
		ExpectedBy:  time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, indent.StatusPendingApproval, ind.Status)

	ind, err = w.indents.Decide(ctx, ind.ID, indent.DecisionInput{Approve: true, ActorID: w.actor})
	require.NoError(t, err)
	require.Equal(t, indent.StatusApproved, ind.Status)

	// The inventory check finds a full shortage and escalates.
	ind, err = w.indents.CheckInventory(ctx, ind.ID, w.actor)
	require.NoError(t, err)
	require.Equal(t, indent.StatusPendingPurchase, ind.Status)
	require.InDelta(t, 0, ind.AvailableStock, 0.0001)
	require.InDelta(t, 50, ind.ShortageQuantity, 0.0001)
	require.NotEqual(t, uuid.Nil, ind.PurchaseRequestID)

	pr, err := w.proc.GetPR(ctx, ind.PurchaseRequestID)
	require.NoError(t, err)
	require.Equal(t, ind.ID, pr.IndentID)
	require.InDelta(t, 50, pr.Quantity, 0.0001)
	require.Equal(t, PRStatusPendingQuotation, pr.Status)

	// Goods arrive against the order at the contracted rate.
	grn, err := w.proc.Receive(ctx, ReceiveInput{
		OrderID:    w.po.ID,
		ReceivedBy: w.actor,
		Lines:      []ReceiveLine{{MaterialID: w.material.ID, ReceivedQty: 50, AcceptedQty: 50}},
		ActorID:    w.actor,
	})
	require.NoError(t, err)
	require.Equal(t, GRNStatusAccepted, grn.Status)

	// Applying stock posts the ledger entry and promotes the waiting indent.
	_, err = w.proc.ApplyStock(ctx, grn.ID, w.actor)
	require.NoError(t, err)

	item, err := w.inventory.GetItem(ctx, w.material.ID)
	require.NoError(t, err)
	require.InDelta(t, 50, item.CurrentStock, 0.0001)
	require.InDelta(t, 300, item.AverageRate, 0.0001)

	ind, err = w.indents.Get(ctx, ind.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusReadyToIssue, ind.Status)
	require.Zero(t, ind.ShortageQuantity)

	pr, err = w.proc.GetPR(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRStatusFulfilled, pr.Status)

	// Issuing drains the stock and completes the indent.
	ind, err = w.indents.Issue(ctx, ind.ID, w.actor)
	require.NoError(t, err)
	require.Equal(t, indent.StatusCompleted, ind.Status)
	require.InDelta(t, 50, ind.IssuedQuantity, 0.0001)

	item, err = w.inventory.GetItem(ctx, w.material.ID)
	require.NoError(t, err)
	require.InDelta(t, 0, item.CurrentStock, 0.0001)

	entries, err := w.inventory.ListTransactions(ctx, w.material.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, inventory.TransactionTypeIn, entries[0].Type)
	require.InDelta(t, 50, entries[0].BalanceAfter, 0.0001)
	require.Equal(t, grn.ID, entries[0].GRNID)
	require.Equal(t, inventory.TransactionTypeOut, entries[1].Type)
	require.InDelta(t, 0, entries[1].BalanceAfter, 0.0001)
	require.Equal(t, ind.ID, entries[1].IndentID)
}

func TestPartialCoverageWaitsForBackstop(t *testing.T) {
	w := newFlowWorld()
	ctx := context.Background()

	ind, err := w.indents.Raise(ctx, indent.RaiseInput{
		SiteID:      uuid.New(),
		MaterialID:  w.material.ID,
		Quantity:    100,
		RequestedBy: w.actor,
		ExpectedBy:  time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = w.indents.Decide(ctx, ind.ID, indent.DecisionInput{Approve: true, ActorID: w.actor})
	require.NoError(t, err)
	_, err = w.indents.CheckInventory(ctx, ind.ID, w.actor)
	require.NoError(t, err)

	// 60 of 100 arrive: the indent must stay pending.
	grn, err := w.proc.Receive(ctx, ReceiveInput{
		OrderID:    w.po.ID,
		ReceivedBy: w.actor,
		Lines:      []ReceiveLine{{MaterialID: w.material.ID, ReceivedQty: 60, AcceptedQty: 60}},
		ActorID:    w.actor,
	})
	require.NoError(t, err)
	_, err = w.proc.ApplyStock(ctx, grn.ID, w.actor)
	require.NoError(t, err)

	current, err := w.indents.Get(ctx, ind.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusPendingPurchase, current.Status)

	// The rest lands; the periodic sweep catches up even if the inline
	// promotion was missed.
	grn, err = w.proc.Receive(ctx, ReceiveInput{
		OrderID:    w.po.ID,
		ReceivedBy: w.actor,
		Lines:      []ReceiveLine{{MaterialID: w.material.ID, ReceivedQty: 40, AcceptedQty: 40}},
		ActorID:    w.actor,
	})
	require.NoError(t, err)
	_, err = w.proc.ApplyStock(ctx, grn.ID, w.actor)
	require.NoError(t, err)

	promoted, err := w.indents.ReconcilePending(ctx)
	require.NoError(t, err)
	require.Zero(t, promoted) // already promoted inline after the second receipt

	current, err = w.indents.Get(ctx, ind.ID)
	require.NoError(t, err)
	require.Equal(t, indent.StatusReadyToIssue, current.Status)
}
