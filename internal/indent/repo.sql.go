package indent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const indentColumns = `id, number, site_id, site_name, material_id, material_name, quantity, unit, priority,
requested_by, requester, expected_by, status, approved_by, approved_at, rejection_reason,
available_stock, shortage_quantity, checked_by, checked_at, purchase_request_id,
issued_quantity, issued_at, created_at, updated_at`

func scanIndent(row pgx.Row) (Indent, error) {
	var ind Indent
	var status string
	var approvedBy, checkedBy, prID *uuid.UUID
	var approvedAt, checkedAt, issuedAt *time.Time
	err := row.Scan(&ind.ID, &ind.Number, &ind.SiteID, &ind.SiteName, &ind.MaterialID, &ind.MaterialName,
		&ind.Quantity, &ind.Unit, &ind.Priority, &ind.RequestedBy, &ind.Requester, &ind.ExpectedBy,
		&status, &approvedBy, &approvedAt, &ind.RejectionReason,
		&ind.AvailableStock, &ind.ShortageQuantity, &checkedBy, &checkedAt, &prID,
		&ind.IssuedQuantity, &issuedAt, &ind.CreatedAt, &ind.UpdatedAt)
	if err != nil {
		return Indent{}, err
	}
	ind.Status = Status(status)
	if approvedBy != nil {
		ind.ApprovedBy = *approvedBy
	}
	if checkedBy != nil {
		ind.CheckedBy = *checkedBy
	}
	if prID != nil {
		ind.PurchaseRequestID = *prID
	}
	if approvedAt != nil {
		ind.ApprovedAt = *approvedAt
	}
	if checkedAt != nil {
		ind.CheckedAt = *checkedAt
	}
	if issuedAt != nil {
		ind.IssuedAt = *issuedAt
	}
	return ind, nil
}

// Get returns a single indent by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Indent, error) {
	ind, err := scanIndent(r.pool.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Indent{}, ErrNotFound
		}
		return Indent{}, err
	}
	return ind, nil
}

// List returns indents matching the filter, newest first, with a total count.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Indent, int, error) {
	conditions := []string{"1=1"}
	args := []any{}
	if filter.SiteID != uuid.Nil {
		args = append(args, filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("site_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority=$%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM indents WHERE `+where, args...).Scan(&total); err != nil {
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
	rows, err := r.pool.Query(ctx, `SELECT `+indentColumns+` FROM indents WHERE `+where+
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var indents []Indent
	for rows.Next() {
		ind, err := scanIndent(rows)
		if err != nil {
			return nil, 0, err
		}
		indents = append(indents, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return indents, total, nil
}

// PendingPurchaseMaterials returns the distinct materials with at least one
// indent awaiting purchase.
func (r *Repository) PendingPurchaseMaterials(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT material_id FROM indents WHERE status=$1`, string(StatusPendingPurchase))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var materials []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		materials = append(materials, id)
	}
	return materials, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Insert(ctx context.Context, ind Indent) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO indents (id, number, site_id, site_name, material_id, material_name, quantity, unit, priority,
requested_by, requester, expected_by, status, rejection_reason, available_stock, shortage_quantity, issued_quantity, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		ind.ID, ind.Number, ind.SiteID, ind.SiteName, ind.MaterialID, ind.MaterialName,
		ind.Quantity, ind.Unit, ind.Priority, ind.RequestedBy, ind.Requester, ind.ExpectedBy,
		string(ind.Status), ind.RejectionReason, ind.AvailableStock, ind.ShortageQuantity,
		ind.IssuedQuantity, ind.CreatedAt, ind.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("indent %s: %w", ind.Number, sequence.ErrDuplicateNumber)
	}
	return err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Indent, error) {
	ind, err := scanIndent(r.tx.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Indent{}, ErrNotFound
		}
		return Indent{}, err
	}
	return ind, nil
}

func (r *txRepository) Update(ctx context.Context, ind Indent) error {
	_, err := r.tx.Exec(ctx, `UPDATE indents SET status=$2, approved_by=$3, approved_at=$4, rejection_reason=$5,
available_stock=$6, shortage_quantity=$7, checked_by=$8, checked_at=$9, purchase_request_id=$10,
issued_quantity=$11, issued_at=$12, updated_at=$13 WHERE id=$1`,
		ind.ID, string(ind.Status), nullUUID(ind.ApprovedBy), nullTime(ind.ApprovedAt), ind.RejectionReason,
		ind.AvailableStock, ind.ShortageQuantity, nullUUID(ind.CheckedBy), nullTime(ind.CheckedAt), nullUUID(ind.PurchaseRequestID),
		ind.IssuedQuantity, nullTime(ind.IssuedAt), ind.UpdatedAt)
	return err
}

func (r *txRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM indents WHERE id=$1`, id)
	return err
}

func (r *txRepository) ListPendingPurchaseForUpdate(ctx context.Context, materialID uuid.UUID) ([]Indent, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+indentColumns+` FROM indents
WHERE material_id=$1 AND status=$2 ORDER BY created_at ASC FOR UPDATE`, materialID, string(StatusPendingPurchase))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indents []Indent
	for rows.Next() {
		ind, err := scanIndent(rows)
		if err != nil {
			return nil, err
		}
		indents = append(indents, ind)
	}
	return indents, rows.Err()
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
