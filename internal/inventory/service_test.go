package inventory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

type memoryRepo struct {
	items map[uuid.UUID]Item
	txs   []StockTransaction
	// insertRaces makes InsertItem lose to a concurrent writer that many
	// times: the winner's row lands and the insert hits the primary key.
	insertRaces int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[uuid.UUID]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, materialID uuid.UUID) (Item, error) {
	if item, ok := r.items[materialID]; ok {
		return item, nil
	}
	return Item{}, ErrItemNotFound
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	var items []Item
	for _, item := range r.items {
		if filter.LowStockOnly && !item.LowStock() {
			continue
		}
		items = append(items, item)
	}
	return items, len(items), nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, materialID uuid.UUID) ([]StockTransaction, error) {
	var entries []StockTransaction
	for _, entry := range r.txs {
		if entry.MaterialID == materialID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (r *memoryRepo) HasOpenReferences(ctx context.Context, materialID uuid.UUID) (bool, error) {
	for _, entry := range r.txs {
		if entry.MaterialID == materialID {
			return true, nil
		}
	}
	return false, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, materialID uuid.UUID) (Item, error) {
	return tx.repo.GetItem(ctx, materialID)
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) error {
	if tx.repo.insertRaces > 0 {
		tx.repo.insertRaces--
		winner := item
		winner.Code = "MAT-2026-9999"
		tx.repo.items[item.MaterialID] = winner
		return &pgconn.PgError{Code: "23505", ConstraintName: "inventory_items_pkey"}
	}
	tx.repo.items[item.MaterialID] = item
	return nil
}

func (tx *memoryTx) UpdateItemLevels(ctx context.Context, materialID uuid.UUID, stock, avgRate, totalValue float64) error {
	item, ok := tx.repo.items[materialID]
	if !ok {
		return ErrItemNotFound
	}
	item.CurrentStock = stock
	item.AverageRate = avgRate
	item.TotalValue = totalValue
	tx.repo.items[materialID] = item
	return nil
}

func (tx *memoryTx) InsertTransaction(ctx context.Context, entry StockTransaction) error {
	tx.repo.txs = append(tx.repo.txs, entry)
	return nil
}

func (tx *memoryTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (StockTransaction, error) {
	for _, entry := range tx.repo.txs {
		if entry.ID == id {
			return entry, nil
		}
	}
	return StockTransaction{}, ErrTransactionNotFound
}

func (tx *memoryTx) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	for i, entry := range tx.repo.txs {
		if entry.ID == id {
			tx.repo.txs = append(tx.repo.txs[:i], tx.repo.txs[i+1:]...)
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (tx *memoryTx) DeleteItem(ctx context.Context, materialID uuid.UUID) error {
	delete(tx.repo.items, materialID)
	return nil
}

type fakeCatalog struct {
	materials map[string]masterdata.Material
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{materials: make(map[string]masterdata.Material)}
}

func (c *fakeCatalog) add(name, category, unit string) masterdata.Material {
	material := masterdata.Material{ID: uuid.New(), Name: name, Category: category, Unit: unit}
	c.materials[strings.ToLower(name)] = material
	return material
}

func (c *fakeCatalog) ResolveMaterial(ctx context.Context, ref masterdata.MaterialRef) (masterdata.Material, error) {
	if ref.ID != uuid.Nil {
		for _, material := range c.materials {
			if material.ID == ref.ID {
				return material, nil
			}
		}
		return masterdata.Material{}, masterdata.ErrMaterialNotFound
	}
	if material, ok := c.materials[strings.ToLower(ref.Name)]; ok {
		return material, nil
	}
	return masterdata.Material{}, masterdata.ErrMaterialNotFound
}

func (c *fakeCatalog) EnsureMaterial(ctx context.Context, name, category, unit string) (masterdata.Material, bool, error) {
	if material, ok := c.materials[strings.ToLower(name)]; ok {
		return material, false, nil
	}
	return c.add(name, category, unit), true, nil
}

type fakeSequence struct {
	counts map[string]int
}

func (s *fakeSequence) Next(ctx context.Context, kind sequence.Kind) (string, error) {
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[kind.Prefix]++
	return fmt.Sprintf("%s-2026-%04d", kind.Prefix, s.counts[kind.Prefix]), nil
}

func newTestService() (*Service, *memoryRepo, *fakeCatalog) {
	repo := newMemoryRepo()
	catalog := newFakeCatalog()
	svc := NewService(repo, catalog, &fakeSequence{}, nil)
	return svc, repo, catalog
}

func TestWeightedAverageRate(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	item, _, err := svc.ApplyStockIn(ctx, StockInInput{
		Material: MaterialInput{ID: material.ID}, Quantity: 10, Rate: 100,
	})
	require.NoError(t, err)
	require.InDelta(t, 10, item.CurrentStock, 0.0001)
	require.InDelta(t, 100, item.AverageRate, 0.0001)

	item, _, err = svc.ApplyStockIn(ctx, StockInInput{
		Material: MaterialInput{ID: material.ID}, Quantity: 10, Rate: 200,
	})
	require.NoError(t, err)
	require.InDelta(t, 20, item.CurrentStock, 0.0001)
	require.InDelta(t, 150, item.AverageRate, 0.0001)
	require.InDelta(t, 3000, item.TotalValue, 0.0001)

	// Stock-out keeps the average rate.
	item, _, err = svc.ApplyStockOut(ctx, StockOutInput{MaterialID: material.ID, Quantity: 5})
	require.NoError(t, err)
	require.InDelta(t, 15, item.CurrentStock, 0.0001)
	require.InDelta(t, 150, item.AverageRate, 0.0001)
	require.InDelta(t, 2250, item.TotalValue, 0.0001)
}

func TestInsufficientStock(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Steel Rods", "Construction Materials", "tons")
	ctx := context.Background()

	_, _, err := svc.ApplyStockIn(ctx, StockInInput{
		Material: MaterialInput{ID: material.ID}, Quantity: 3, Rate: 62000,
	})
	require.NoError(t, err)

	_, _, err = svc.ApplyStockOut(ctx, StockOutInput{MaterialID: material.ID, Quantity: 5})
	var insufficient InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.InDelta(t, 3, insufficient.Available, 0.0001)
	require.InDelta(t, 5, insufficient.Requested, 0.0001)

	// The failed movement must not leave a ledger entry.
	entries, err := svc.ListTransactions(ctx, material.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLedgerBalanceSnapshots(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("River Sand", "Aggregates", "cubic meters")
	ctx := context.Background()

	_, first, err := svc.ApplyStockIn(ctx, StockInInput{Material: MaterialInput{ID: material.ID}, Quantity: 50, Rate: 300})
	require.NoError(t, err)
	_, second, err := svc.ApplyStockOut(ctx, StockOutInput{MaterialID: material.ID, Quantity: 50})
	require.NoError(t, err)

	require.InDelta(t, 50, first.BalanceAfter, 0.0001)
	require.InDelta(t, 0, second.BalanceAfter, 0.0001)
	require.Equal(t, TransactionTypeIn, first.Type)
	require.Equal(t, TransactionTypeOut, second.Type)

	// Replaying the log reproduces the current balance.
	entries, err := svc.ListTransactions(ctx, material.ID)
	require.NoError(t, err)
	balance := 0.0
	for _, entry := range entries {
		switch entry.Type {
		case TransactionTypeIn:
			balance += entry.Quantity
		case TransactionTypeOut:
			balance -= entry.Quantity
		}
		require.InDelta(t, entry.BalanceAfter, balance, 0.0001)
	}
	item, err := svc.GetItem(ctx, material.ID)
	require.NoError(t, err)
	require.InDelta(t, balance, item.CurrentStock, 0.0001)
}

func TestReverseStockIn(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	_, entry, err := svc.ApplyStockIn(ctx, StockInInput{Material: MaterialInput{ID: material.ID}, Quantity: 40, Rate: 310})
	require.NoError(t, err)

	item, err := svc.ReverseStockIn(ctx, entry.ID, uuid.Nil)
	require.NoError(t, err)
	require.InDelta(t, 0, item.CurrentStock, 0.0001)

	// The reversed entry is gone from the log.
	entries, err := svc.ListTransactions(ctx, material.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReverseStockInClampsAtZero(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	_, entry, err := svc.ApplyStockIn(ctx, StockInInput{Material: MaterialInput{ID: material.ID}, Quantity: 40, Rate: 310})
	require.NoError(t, err)
	_, _, err = svc.ApplyStockOut(ctx, StockOutInput{MaterialID: material.ID, Quantity: 30})
	require.NoError(t, err)

	// Only 10 remain; reversing the 40-unit inbound clamps at zero.
	item, err := svc.ReverseStockIn(ctx, entry.ID, uuid.Nil)
	require.NoError(t, err)
	require.InDelta(t, 0, item.CurrentStock, 0.0001)
}

func TestReverseRejectsStockOut(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	_, _, err := svc.ApplyStockIn(ctx, StockInInput{Material: MaterialInput{ID: material.ID}, Quantity: 10, Rate: 300})
	require.NoError(t, err)
	_, out, err := svc.ApplyStockOut(ctx, StockOutInput{MaterialID: material.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = svc.ReverseStockIn(ctx, out.ID, uuid.Nil)
	require.ErrorIs(t, err, ErrNotStockIn)
}

func TestLazyMaterialCreationByName(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	item, _, err := svc.ApplyStockIn(ctx, StockInInput{
		Material: MaterialInput{Name: "Granite Chips", Category: "Aggregates"},
		Quantity: 12, Rate: 80,
	})
	require.NoError(t, err)
	require.Equal(t, "Granite Chips", item.Name)
	require.True(t, strings.HasPrefix(item.Code, "MAT-"))
	require.Equal(t, "Main Store", item.Warehouse)

	stored, err := repo.GetItem(ctx, item.MaterialID)
	require.NoError(t, err)
	require.InDelta(t, 12, stored.CurrentStock, 0.0001)
}

func TestAddMaterialLostRaceReusesWinner(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	// A concurrent add registers the item between the read and the write.
	repo.insertRaces = 1

	item, created, err := svc.AddOrGetMaterial(ctx, AddMaterialInput{Name: "Cement", Unit: "bags"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "MAT-2026-9999", item.Code)
	require.Len(t, repo.items, 1)
}

func TestConflictingDocumentRefs(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	_, _, err := svc.ApplyStockIn(ctx, StockInInput{
		Material: MaterialInput{ID: material.ID},
		Quantity: 5, Rate: 300,
		Ref: DocumentRef{GRNID: uuid.New(), IndentID: uuid.New()},
	})
	require.ErrorIs(t, err, ErrConflictingRefs)
}

func TestDeleteItemWithHistoryRefused(t *testing.T) {
	svc, _, catalog := newTestService()
	material := catalog.add("Cement", "Construction Materials", "bags")
	ctx := context.Background()

	_, _, err := svc.ApplyStockIn(ctx, StockInInput{Material: MaterialInput{ID: material.ID}, Quantity: 5, Rate: 300})
	require.NoError(t, err)

	err = svc.DeleteItem(ctx, material.ID, uuid.Nil)
	require.ErrorIs(t, err, ErrItemReferenced)
}

func TestAvailabilityUnknownMaterial(t *testing.T) {
	svc, _, _ := newTestService()

	qty, known, err := svc.Availability(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, known)
	require.Zero(t, qty)
}
