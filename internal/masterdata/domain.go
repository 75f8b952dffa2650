package masterdata

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Material is a catalog entry resolving a material to its canonical
// name, category and default unit of measure.
type Material struct {
	ID        uuid.UUID
	Name      string
	Category  string
	Unit      string
	CreatedAt time.Time
}

// Site identifies a location that raises indents.
type Site struct {
	ID   uuid.UUID
	Code string
	Name string
}

// Employee is an actor record used for attribution only.
type Employee struct {
	ID   uuid.UUID
	Name string
	Role string
}

// MaterialRef addresses a material either by stable id (primary path)
// or by name (legacy compatibility path).
type MaterialRef struct {
	ID   uuid.UUID
	Name string
}

// IsZero reports whether the reference carries neither id nor name.
func (r MaterialRef) IsZero() bool {
	return r.ID == uuid.Nil && r.Name == ""
}

var (
	// ErrMaterialNotFound indicates no catalog entry matched the reference.
	ErrMaterialNotFound = errors.New("masterdata: material not found")
	// ErrSiteNotFound indicates an unknown site reference.
	ErrSiteNotFound = errors.New("masterdata: site not found")
	// ErrEmployeeNotFound indicates an unknown employee reference.
	ErrEmployeeNotFound = errors.New("masterdata: employee not found")
	// ErrValidation indicates invalid catalog input.
	ErrValidation = errors.New("masterdata: invalid input")
)

// AmbiguousMaterialError is returned when more than one catalog entry matches
// a material name case-insensitively. Requires manual disambiguation.
type AmbiguousMaterialError struct {
	Name    string
	Matches int
}

func (e AmbiguousMaterialError) Error() string {
	return fmt.Sprintf("masterdata: material name %q matches %d catalog entries", e.Name, e.Matches)
}

// Problem implements httpx.Problemer.
func (e AmbiguousMaterialError) Problem() (int, string, map[string]any) {
	return http.StatusConflict, "Material Lookup Ambiguous", map[string]any{
		"name":    e.Name,
		"matches": e.Matches,
	}
}
