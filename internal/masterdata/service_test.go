package masterdata

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	materials []Material
	sites     map[uuid.UUID]Site
	employees map[uuid.UUID]Employee
	findCalls int
	inserted  []Material
	// insertRaces makes InsertMaterial lose to a concurrent writer that many
	// times: the winner's entry lands and the insert hits the name index.
	insertRaces int
}

func (m *mockRepo) GetMaterial(ctx context.Context, id uuid.UUID) (Material, error) {
	for _, material := range m.materials {
		if material.ID == id {
			return material, nil
		}
	}
	return Material{}, ErrMaterialNotFound
}

func (m *mockRepo) FindMaterialsByName(ctx context.Context, name string) ([]Material, error) {
	m.findCalls++
	var matches []Material
	for _, material := range m.materials {
		if strings.EqualFold(material.Name, name) {
			matches = append(matches, material)
		}
	}
	return matches, nil
}

func (m *mockRepo) InsertMaterial(ctx context.Context, material Material) error {
	if m.insertRaces > 0 {
		m.insertRaces--
		winner := material
		winner.ID = uuid.New()
		m.materials = append(m.materials, winner)
		return &pgconn.PgError{Code: "23505", ConstraintName: "materials_name_lower_idx"}
	}
	m.materials = append(m.materials, material)
	m.inserted = append(m.inserted, material)
	return nil
}

func (m *mockRepo) GetSite(ctx context.Context, id uuid.UUID) (Site, error) {
	if site, ok := m.sites[id]; ok {
		return site, nil
	}
	return Site{}, ErrSiteNotFound
}

func (m *mockRepo) GetEmployee(ctx context.Context, id uuid.UUID) (Employee, error) {
	if employee, ok := m.employees[id]; ok {
		return employee, nil
	}
	return Employee{}, ErrEmployeeNotFound
}

func newTestCatalog(t *testing.T, repo *mockRepo) *Catalog {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCatalog(repo, NewCatalogCache(client, time.Minute))
}

func TestCanonicalize(t *testing.T) {
	catalog := NewCatalog(&mockRepo{}, nil)

	require.Equal(t, "River Sand", catalog.Canonicalize("  river   sand "))
	require.Equal(t, "Cement", catalog.Canonicalize("CEMENT"))
}

func TestResolveMaterialByNameCaches(t *testing.T) {
	repo := &mockRepo{materials: []Material{
		{ID: uuid.New(), Name: "Cement", Category: "Construction Materials", Unit: "bags"},
	}}
	catalog := newTestCatalog(t, repo)
	ctx := context.Background()

	material, err := catalog.ResolveMaterial(ctx, MaterialRef{Name: "cement"})
	require.NoError(t, err)
	require.Equal(t, "Cement", material.Name)
	require.Equal(t, 1, repo.findCalls)

	// Second lookup is served from the cache.
	material, err = catalog.ResolveMaterial(ctx, MaterialRef{Name: "CEMENT"})
	require.NoError(t, err)
	require.Equal(t, "Cement", material.Name)
	require.Equal(t, 1, repo.findCalls)
}

func TestResolveMaterialAmbiguous(t *testing.T) {
	repo := &mockRepo{materials: []Material{
		{ID: uuid.New(), Name: "Cement", Unit: "bags"},
		{ID: uuid.New(), Name: "cement", Unit: "tons"},
	}}
	catalog := NewCatalog(repo, nil)

	_, err := catalog.ResolveMaterial(context.Background(), MaterialRef{Name: "cement"})
	var ambiguous AmbiguousMaterialError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, 2, ambiguous.Matches)
}

func TestResolveMaterialEmptyRef(t *testing.T) {
	catalog := NewCatalog(&mockRepo{}, nil)

	_, err := catalog.ResolveMaterial(context.Background(), MaterialRef{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestEnsureMaterialCreatesCanonicalEntry(t *testing.T) {
	repo := &mockRepo{}
	catalog := newTestCatalog(t, repo)
	ctx := context.Background()

	material, created, err := catalog.EnsureMaterial(ctx, "  granite   chips ", "Aggregates", "cubic meters")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "Granite Chips", material.Name)
	require.Len(t, repo.inserted, 1)

	// A repeated ensure resolves the existing entry.
	again, created, err := catalog.EnsureMaterial(ctx, "granite chips", "Aggregates", "cubic meters")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, material.ID, again.ID)
	require.Len(t, repo.inserted, 1)
}

func TestEnsureMaterialLostRaceReusesWinner(t *testing.T) {
	repo := &mockRepo{insertRaces: 1}
	catalog := newTestCatalog(t, repo)
	ctx := context.Background()

	material, created, err := catalog.EnsureMaterial(ctx, "Cement", "Construction Materials", "bags")
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, repo.materials, 1)
	require.Equal(t, repo.materials[0].ID, material.ID)
	require.Empty(t, repo.inserted)
}

func TestEnsureMaterialRequiresNameAndUnit(t *testing.T) {
	catalog := NewCatalog(&mockRepo{}, nil)

	_, _, err := catalog.EnsureMaterial(context.Background(), " ", "Aggregates", "bags")
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = catalog.EnsureMaterial(context.Background(), "Cement", "Construction Materials", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestDirectoryRejectsNilIDs(t *testing.T) {
	directory := NewDirectory(&mockRepo{})

	_, err := directory.GetSite(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, ErrValidation)
	_, err = directory.GetEmployee(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, ErrValidation)
}
