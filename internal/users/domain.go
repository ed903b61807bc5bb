// Package users manages identities and drives the territorial access matrix
// lifecycle that follows role changes.
package users

import "time"

// User is an account managed by administrators.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	SecondLastName string    `json:"second_last_name,omitempty"`
	CargoID        *int64    `json:"cargo_id"`
	Active         bool      `json:"active"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
	UpdatedBy      *int64    `json:"updated_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoleRef is a role reference attached to a user.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ListRow is one row of the paginated listing.
type ListRow struct {
	User
	CargoNombre string    `json:"cargo,omitempty"`
	Roles       []RoleRef `json:"roles"`
}

// Detail is a user with roles and, for non-administrators, the territorial
// access summary.
type Detail struct {
	User
	Roles                   []RoleRef `json:"roles"`
	MunicipalityAccess      any       `json:"municipality_access"`
	RequiresPermissionCheck bool      `json:"requires_permission_check,omitempty"`
}
