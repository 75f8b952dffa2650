package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `material_id, code, name, category, unit, current_stock, reorder_level, average_rate, total_value, warehouse, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.MaterialID, &item.Code, &item.Name, &item.Category, &item.Unit,
		&item.CurrentStock, &item.ReorderLevel, &item.AverageRate, &item.TotalValue, &item.Warehouse, &item.UpdatedAt)
	return item, err
}

func (r *Repository) GetItem(ctx context.Context, materialID uuid.UUID) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE material_id=$1`, materialID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.LowStockOnly {
		conditions = append(conditions, "current_stock <= reorder_level")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args), len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT %s FROM inventory_items WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`,
		itemColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

const txColumns = `id, number, tx_type, material_id, material_name, quantity, unit, rate, grn_id, indent_id, actor_id, occurred_at, balance_after`

func scanTransaction(row pgx.Row) (StockTransaction, error) {
	var entry StockTransaction
	var txType string
	var grnID, indentID, actorID *uuid.UUID
	err := row.Scan(&entry.ID, &entry.Number, &txType, &entry.MaterialID, &entry.MaterialName,
		&entry.Quantity, &entry.Unit, &entry.Rate, &grnID, &indentID, &actorID, &entry.OccurredAt, &entry.BalanceAfter)
	if err != nil {
		return StockTransaction{}, err
	}
	entry.Type = TransactionType(txType)
	if grnID != nil {
		entry.GRNID = *grnID
	}
	if indentID != nil {
		entry.IndentID = *indentID
	}
	if actorID != nil {
		entry.ActorID = *actorID
	}
	return entry, nil
}

func (r *Repository) ListTransactions(ctx context.Context, materialID uuid.UUID) ([]StockTransaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM stock_transactions WHERE material_id=$1 ORDER BY occurred_at ASC, number ASC`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []StockTransaction{}
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// HasOpenReferences reports whether ledger rows or non-terminal indents still
// reference the material.
func (r *Repository) HasOpenReferences(ctx context.Context, materialID uuid.UUID) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM stock_transactions WHERE material_id=$1
UNION
SELECT 1 FROM indents WHERE material_id=$1 AND status NOT IN ('Completed','Rejected'))`, materialID).Scan(&referenced)
	return referenced, err
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, materialID uuid.UUID) (Item, error) {
	item, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE material_id=$1 FOR UPDATE`, materialID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_items (material_id, code, name, category, unit, current_stock, reorder_level, average_rate, total_value, warehouse, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())`,
		item.MaterialID, item.Code, item.Name, item.Category, item.Unit,
		item.CurrentStock, item.ReorderLevel, item.AverageRate, item.TotalValue, item.Warehouse)
	return err
}

func (r *txRepository) UpdateItemLevels(ctx context.Context, materialID uuid.UUID, stock, avgRate, totalValue float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET current_stock=$2, average_rate=$3, total_value=$4, updated_at=NOW() WHERE material_id=$1`,
		materialID, stock, avgRate, totalValue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, entry StockTransaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_transactions (id, number, tx_type, material_id, material_name, quantity, unit, rate, grn_id, indent_id, actor_id, occurred_at, balance_after)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		entry.ID, entry.Number, string(entry.Type), entry.MaterialID, entry.MaterialName,
		entry.Quantity, entry.Unit, entry.Rate, nullUUID(entry.GRNID), nullUUID(entry.IndentID), nullUUID(entry.ActorID),
		entry.OccurredAt, entry.BalanceAfter)
	return err
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (StockTransaction, error) {
	entry, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+txColumns+` FROM stock_transactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockTransaction{}, ErrTransactionNotFound
		}
		return StockTransaction{}, err
	}
	return entry, nil
}

func (r *txRepository) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_transactions WHERE id=$1`, id)
	return err
}

func (r *txRepository) DeleteItem(ctx context.Context, materialID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM inventory_items WHERE material_id=$1`, materialID)
	return err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
