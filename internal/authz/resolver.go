package authz

import (
	"context"
	"fmt"

	"github.com/sigedo/sigedo/internal/shared"
)

// Denial messages surfaced to API consumers.
const (
	msgAdministratorOnly = "Acceso denegado: Solo el personal administrativo puede eliminar registros permanentes."
	msgMissingTerritory  = "Identificador de municipio no proporcionado para validar privilegios territoriales."
	msgGrantNotFound     = "Acceso denegado: No cuenta con el permiso de '%s' asignado para este municipio."
)

// Store provides the read-only matrix lookup. GrantExists must only match
// rows where the grant, the referenced permission and the referenced
// municipio are all active.
type Store interface {
	GrantExists(ctx context.Context, userID, municipioID int64, permission string) (bool, error)
}

// Resolver decides whether an actor may perform a named action.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver over the given matrix store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies the decision algorithm in strict order: administrator
// short-circuit, administrator-only destructive actions, territory
// requirement, then the matrix lookup. A lookup fault is returned as an
// error, never folded into a deny.
func (r *Resolver) Resolve(ctx context.Context, actor Actor, permission string, municipioID *int64) (Decision, error) {
	if actor.IsAdministrator() {
		return Allow(), nil
	}

	if permission == shared.PermEliminar {
		return Deny(DenyAdministratorOnly, msgAdministratorOnly), nil
	}

	if municipioID == nil {
		return Deny(DenyMissingTerritory, msgMissingTerritory), nil
	}

	found, err := r.store.GrantExists(ctx, actor.ID, *municipioID, permission)
	if err != nil {
		return Decision{}, fmt.Errorf("authz: matrix lookup: %w", err)
	}
	if !found {
		return Deny(DenyGrantNotFound, fmt.Sprintf(msgGrantNotFound, permission)), nil
	}
	return Allow(), nil
}
