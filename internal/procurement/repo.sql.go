package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
)

// Repository is the PostgreSQL implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const prColumns = `id, number, indent_id, indent_number, site_id, material_id, material_name,
quantity, unit, priority, required_by, status, raised_by, created_at, updated_at`

func scanPR(row pgx.Row) (PurchaseRequest, error) {
	var pr PurchaseRequest
	var raisedBy *uuid.UUID
	err := row.Scan(&pr.ID, &pr.Number, &pr.IndentID, &pr.IndentNumber, &pr.SiteID,
		&pr.MaterialID, &pr.MaterialName, &pr.Quantity, &pr.Unit, &pr.Priority,
		&pr.RequiredBy, &pr.Status, &raisedBy, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return PurchaseRequest{}, err
	}
	if raisedBy != nil {
		pr.RaisedBy = *raisedBy
	}
	return pr, nil
}

// GetPR returns a purchase request by id.
func (r *Repository) GetPR(ctx context.Context, id uuid.UUID) (PurchaseRequest, error) {
	pr, err := scanPR(r.pool.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, ErrPRNotFound
		}
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// GetPRByIndent returns the purchase request linked to an indent, if any.
func (r *Repository) GetPRByIndent(ctx context.Context, indentID uuid.UUID) (PurchaseRequest, error) {
	pr, err := scanPR(r.pool.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE indent_id=$1`, indentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, ErrPRNotFound
		}
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// ListPRs returns purchase requests matching the filter with a total count.
func (r *Repository) ListPRs(ctx context.Context, filter PRFilter) ([]PurchaseRequest, int, error) {
	conditions := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SiteID != uuid.Nil {
		args = append(args, filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("site_id=$%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_requests WHERE `+where, args...).Scan(&total); err != nil {
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
	rows, err := r.pool.Query(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE `+where+
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var prs []PurchaseRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, 0, err
		}
		prs = append(prs, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return prs, total, nil
}

// FulfillPRs marks requests served: any request for the material whose indent
// has moved past Pending Purchase becomes Fulfilled.
func (r *Repository) FulfillPRs(ctx context.Context, materialID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE purchase_requests pr SET status=$2, updated_at=NOW()
FROM indents i
WHERE pr.indent_id = i.id AND pr.material_id = $1 AND pr.status <> $2 AND i.status = 'Ready to Issue'`,
		materialID, PRStatusFulfilled)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const poColumns = `id, number, vendor_name, status, created_at, updated_at`
const poItemColumns = `id, order_id, material_id, material_name, unit, ordered_qty, received_qty, rate`

func loadPO(ctx context.Context, q querier, clause string, arg any) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE `+clause, arg).
		Scan(&po.ID, &po.Number, &po.VendorName, &po.Status, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrPONotFound
		}
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+poItemColumns+` FROM purchase_order_items WHERE order_id=$1 ORDER BY material_name`, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MaterialID, &item.MaterialName,
			&item.Unit, &item.OrderedQty, &item.ReceivedQty, &item.Rate); err != nil {
			return PurchaseOrder{}, err
		}
		po.Items = append(po.Items, item)
	}
	return po, rows.Err()
}

// GetPO returns a purchase order with its lines.
func (r *Repository) GetPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, "id=$1", id)
}

// GetPOByNumber returns a purchase order by document number.
func (r *Repository) GetPOByNumber(ctx context.Context, number string) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, "number=$1", number)
}

const grnColumns = `id, number, order_id, order_number, vendor_name, received_by, received_at,
vehicle_number, remarks, status, stock_updated, created_at, updated_at`
const grnItemColumns = `id, grn_id, material_id, material_name, unit, received_qty, accepted_qty, rejected_qty, rate, transaction_id, remarks`

func scanGRN(row pgx.Row) (GRN, error) {
	var grn GRN
	var receivedBy *uuid.UUID
	err := row.Scan(&grn.ID, &grn.Number, &grn.OrderID, &grn.OrderNumber, &grn.VendorName,
		&receivedBy, &grn.ReceivedAt, &grn.VehicleNumber, &grn.Remarks, &grn.Status,
		&grn.StockUpdated, &grn.CreatedAt, &grn.UpdatedAt)
	if err != nil {
		return GRN{}, err
	}
	if receivedBy != nil {
		grn.ReceivedBy = *receivedBy
	}
	return grn, nil
}

func loadGRNItems(ctx context.Context, q querier, grnID uuid.UUID) ([]GRNItem, error) {
	rows, err := q.Query(ctx, `SELECT `+grnItemColumns+` FROM grn_items WHERE grn_id=$1 ORDER BY material_name`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GRNItem
	for rows.Next() {
		var item GRNItem
		var txID *uuid.UUID
		if err := rows.Scan(&item.ID, &item.GRNID, &item.MaterialID, &item.MaterialName, &item.Unit,
			&item.ReceivedQty, &item.AcceptedQty, &item.RejectedQty, &item.Rate, &txID, &item.Remarks); err != nil {
			return nil, err
		}
		if txID != nil {
			item.TransactionID = *txID
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetGRN returns a receipt with its lines.
func (r *Repository) GetGRN(ctx context.Context, id uuid.UUID) (GRN, error) {
	grn, err := scanGRN(r.pool.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GRN{}, ErrGRNNotFound
		}
		return GRN{}, err
	}
	grn.Items, err = loadGRNItems(ctx, r.pool, grn.ID)
	return grn, err
}

// ListGRNs returns receipts matching the filter, newest first, with lines.
func (r *Repository) ListGRNs(ctx context.Context, filter GRNFilter) ([]GRN, int, error) {
	conditions := []string{"1=1"}
	args := []any{}
	if filter.Vendor != "" {
		args = append(args, "%"+filter.Vendor+"%")
		conditions = append(conditions, fmt.Sprintf("vendor_name ILIKE $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status=$%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("received_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("received_at <= $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM grns WHERE `+where, args...).Scan(&total); err != nil {
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
	rows, err := r.pool.Query(ctx, `SELECT `+grnColumns+` FROM grns WHERE `+where+
		fmt.Sprintf(" ORDER BY received_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var grns []GRN
	for rows.Next() {
		grn, err := scanGRN(rows)
		if err != nil {
			return nil, 0, err
		}
		grns = append(grns, grn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range grns {
		items, err := loadGRNItems(ctx, r.pool, grns[i].ID)
		if err != nil {
			return nil, 0, err
		}
		grns[i].Items = items
	}
	return grns, total, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertPR(ctx context.Context, pr PurchaseRequest) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO purchase_requests (id, number, indent_id, indent_number, site_id, material_id, material_name,
quantity, unit, priority, required_by, status, raised_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		pr.ID, pr.Number, pr.IndentID, pr.IndentNumber, pr.SiteID, pr.MaterialID, pr.MaterialName,
		pr.Quantity, pr.Unit, pr.Priority, pr.RequiredBy, pr.Status, nullUUID(pr.RaisedBy),
		pr.CreatedAt, pr.UpdatedAt)
	return err
}

func (r *txRepository) InsertGRN(ctx context.Context, grn GRN) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO grns (id, number, order_id, order_number, vendor_name, received_by, received_at,
vehicle_number, remarks, status, stock_updated, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		grn.ID, grn.Number, grn.OrderID, grn.OrderNumber, grn.VendorName, nullUUID(grn.ReceivedBy),
		grn.ReceivedAt, grn.VehicleNumber, grn.Remarks, grn.Status, grn.StockUpdated,
		grn.CreatedAt, grn.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("grn %s: %w", grn.Number, sequence.ErrDuplicateNumber)
	}
	if err != nil {
		return err
	}
	for _, item := range grn.Items {
		_, err := r.tx.Exec(ctx, `INSERT INTO grn_items (id, grn_id, material_id, material_name, unit,
received_qty, accepted_qty, rejected_qty, rate, transaction_id, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			item.ID, item.GRNID, item.MaterialID, item.MaterialName, item.Unit,
			item.ReceivedQty, item.AcceptedQty, item.RejectedQty, item.Rate,
			nullUUID(item.TransactionID), item.Remarks)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetGRNForUpdate(ctx context.Context, id uuid.UUID) (GRN, error) {
	grn, err := scanGRN(r.tx.QueryRow(ctx, `SELECT `+grnColumns+` FROM grns WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GRN{}, ErrGRNNotFound
		}
		return GRN{}, err
	}
	grn.Items, err = loadGRNItems(ctx, r.tx, grn.ID)
	return grn, err
}

func (r *txRepository) MarkGRNApplied(ctx context.Context, grn GRN) error {
	_, err := r.tx.Exec(ctx, `UPDATE grns SET stock_updated=TRUE, updated_at=$2 WHERE id=$1`, grn.ID, grn.UpdatedAt)
	if err != nil {
		return err
	}
	for _, item := range grn.Items {
		if item.TransactionID == uuid.Nil {
			continue
		}
		if _, err := r.tx.Exec(ctx, `UPDATE grn_items SET transaction_id=$2 WHERE id=$1`, item.ID, item.TransactionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteGRN(ctx context.Context, id uuid.UUID) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM grn_items WHERE grn_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM grns WHERE id=$1`, id)
	return err
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return loadPO(ctx, r.tx, "id=$1 FOR UPDATE", id)
}

func (r *txRepository) UpdatePOItemReceived(ctx context.Context, itemID uuid.UUID, receivedQty float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET received_qty=$2 WHERE id=$1`, itemID, receivedQty)
	return err
}

func (r *txRepository) UpdatePOStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
