// Package authz resolves whether an actor may perform a named action inside
// an administrative territory (municipio). Decisions come from a per-user,
// per-municipio grant matrix with a hard administrator bypass.
package authz

import "github.com/sigedo/sigedo/internal/shared"

// Actor is the authenticated principal, resolved once per request and
// immutable for its lifetime.
type Actor struct {
	ID      int64
	RoleIDs []int64
}

// IsAdministrator reports whether the actor holds the distinguished
// administrator role.
func (a Actor) IsAdministrator() bool {
	for _, id := range a.RoleIDs {
		if id == shared.AdministratorRoleID {
			return true
		}
	}
	return false
}

// DenyReason classifies why a resolution denied access.
type DenyReason string

const (
	// DenyAdministratorOnly marks an action reserved for administrators.
	DenyAdministratorOnly DenyReason = "administrator_only"
	// DenyMissingTerritory marks a request that named no municipio.
	DenyMissingTerritory DenyReason = "missing_territory"
	// DenyGrantNotFound marks the absence of an active matching grant.
	DenyGrantNotFound DenyReason = "grant_not_found"
)

// Decision is the outcome of a resolution. A deny is an expected, user-facing
// outcome; infrastructure faults are reported separately as errors.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Message string
}

// Allow is the positive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a negative decision with a reason and user-facing message.
func Deny(reason DenyReason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

// TerritoryAccess summarises one municipio an actor can operate in, with the
// permission names granted there.
type TerritoryAccess struct {
	MunicipioID int64    `json:"id"`
	Num         string   `json:"num"`
	Nombre      string   `json:"nombre"`
	Permisos    []string `json:"permisos"`
}

// Grant is one row of the territorial matrix: a specific user may perform a
// specific action inside a specific municipio. IsException flags a grant that
// deviates from the actor's role template; it carries no special precedence
// but is preserved for reporting.
type Grant struct {
	UserID       int64 `json:"user_id"`
	MunicipioID  int64 `json:"municipio_id"`
	PermissionID int64 `json:"permission_id"`
	IsException  bool  `json:"is_exception"`
	Active       bool  `json:"active"`
}
