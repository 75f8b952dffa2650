package masterdata

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog and directory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetMaterial(ctx context.Context, id uuid.UUID) (Material, error) {
	var m Material
	err := r.pool.QueryRow(ctx, `SELECT id, name, category, unit, created_at FROM materials WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &m.Category, &m.Unit, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, ErrMaterialNotFound
		}
		return Material{}, err
	}
	return m, nil
}

func (r *Repository) FindMaterialsByName(ctx context.Context, name string) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, category, unit, created_at FROM materials WHERE LOWER(name)=LOWER($1) ORDER BY created_at ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var materials []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.Unit, &m.CreatedAt); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return materials, nil
}

func (r *Repository) InsertMaterial(ctx context.Context, material Material) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO materials (id, name, category, unit, created_at) VALUES ($1,$2,$3,$4,NOW())`,
		material.ID, material.Name, material.Category, material.Unit)
	return err
}

func (r *Repository) GetSite(ctx context.Context, id uuid.UUID) (Site, error) {
	var s Site
	err := r.pool.QueryRow(ctx, `SELECT id, code, name FROM sites WHERE id=$1`, id).Scan(&s.ID, &s.Code, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, ErrSiteNotFound
		}
		return Site{}, err
	}
	return s, nil
}

func (r *Repository) GetEmployee(ctx context.Context, id uuid.UUID) (Employee, error) {
	var e Employee
	err := r.pool.QueryRow(ctx, `SELECT id, name, role FROM employees WHERE id=$1`, id).Scan(&e.ID, &e.Name, &e.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, ErrEmployeeNotFound
		}
		return Employee{}, err
	}
	return e, nil
}
