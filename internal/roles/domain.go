// Package roles manages the profile catalog and each profile's base
// permission template. The template seeds matrix pruning on role changes;
// it never grants access by itself.
package roles

// PermissionRef is one permission attached to a role template.
type PermissionRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Role is a user profile with its base permission template.
type Role struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Active          bool            `json:"active"`
	BasePermissions []PermissionRef `json:"base_permissions"`
}

// Count is the number of active users holding a role.
type Count struct {
	RoleID   int64  `json:"roleId"`
	RoleName string `json:"roleName"`
	Count    int    `json:"count"`
}
