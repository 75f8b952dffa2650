package masterdata

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// RepositoryPort abstracts catalog and directory persistence.
type RepositoryPort interface {
	GetMaterial(ctx context.Context, id uuid.UUID) (Material, error)
	FindMaterialsByName(ctx context.Context, name string) ([]Material, error)
	InsertMaterial(ctx context.Context, material Material) error
	GetSite(ctx context.Context, id uuid.UUID) (Site, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (Employee, error)
}

// Catalog resolves material references to canonical catalog entries.
type Catalog struct {
	repo  RepositoryPort
	cache *CatalogCache
	titer cases.Caser
}

// NewCatalog constructs Catalog. cache may be nil.
func NewCatalog(repo RepositoryPort, cache *CatalogCache) *Catalog {
	return &Catalog{repo: repo, cache: cache, titer: cases.Title(language.English)}
}

// Canonicalize normalises a raw material name to its canonical form.
func (c *Catalog) Canonicalize(name string) string {
	return c.titer.String(strings.Join(strings.Fields(name), " "))
}

// ResolveMaterial resolves a reference to a single catalog entry.
// Lookup by id is the primary path; name matching is case-insensitive and
// fails with AmbiguousMaterialError when more than one entry matches.
func (c *Catalog) ResolveMaterial(ctx context.Context, ref MaterialRef) (Material, error) {
	if ref.IsZero() {
		return Material{}, ErrValidation
	}
	if ref.ID != uuid.Nil {
		return c.repo.GetMaterial(ctx, ref.ID)
	}
	if c.cache != nil {
		if material, ok := c.cache.Get(ctx, ref.Name); ok {
			return material, nil
		}
	}
	matches, err := c.repo.FindMaterialsByName(ctx, strings.TrimSpace(ref.Name))
	if err != nil {
		return Material{}, err
	}
	switch len(matches) {
	case 0:
		return Material{}, ErrMaterialNotFound
	case 1:
		if c.cache != nil {
			c.cache.Put(ctx, ref.Name, matches[0])
		}
		return matches[0], nil
	default:
		return Material{}, AmbiguousMaterialError{Name: ref.Name, Matches: len(matches)}
	}
}

// EnsureMaterial resolves by name or creates a new catalog entry with the
// canonical name. Returns the entry and whether it was created.
func (c *Catalog) EnsureMaterial(ctx context.Context, name, category, unit string) (Material, bool, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(unit) == "" {
		return Material{}, false, ErrValidation
	}
	material, err := c.ResolveMaterial(ctx, MaterialRef{Name: name})
	if err == nil {
		return material, false, nil
	}
	if !errors.Is(err, ErrMaterialNotFound) {
		return Material{}, false, err
	}
	material = Material{
		ID:       uuid.New(),
		Name:     c.Canonicalize(name),
		Category: strings.TrimSpace(category),
		Unit:     strings.TrimSpace(unit),
	}
	if err := c.repo.InsertMaterial(ctx, material); err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race: a concurrent ensure created the entry. Reuse it.
			winner, rerr := c.ResolveMaterial(ctx, MaterialRef{Name: name})
			return winner, false, rerr
		}
		return Material{}, false, err
	}
	if c.cache != nil {
		c.cache.Put(ctx, material.Name, material)
	}
	return material, true, nil
}

// Directory resolves requester and approver identifiers to actor records.
type Directory struct {
	repo RepositoryPort
}

// NewDirectory constructs Directory.
func NewDirectory(repo RepositoryPort) *Directory {
	return &Directory{repo: repo}
}

// GetSite resolves a site id.
func (d *Directory) GetSite(ctx context.Context, id uuid.UUID) (Site, error) {
	if id == uuid.Nil {
		return Site{}, ErrValidation
	}
	return d.repo.GetSite(ctx, id)
}

// GetEmployee resolves an employee id.
func (d *Directory) GetEmployee(ctx context.Context, id uuid.UUID) (Employee, error) {
	if id == uuid.Nil {
		return Employee{}, ErrValidation
	}
	return d.repo.GetEmployee(ctx, id)
}
