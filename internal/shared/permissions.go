package shared

// Canonical permission names of the territorial matrix. These are opaque
// tokens compared for equality; new actions require a catalog row plus a
// constant here.
const (
	PermVer       = "ver"
	PermDescargar = "descargar"
	PermEditar    = "editar"
	PermEliminar  = "eliminar"
	PermImprimir  = "imprimir"
)

// AdministratorRoleID identifies the distinguished administrator role. An
// actor holding it bypasses every territorial check.
const AdministratorRoleID int64 = 1

// MatrixScopes lists the permissions an operator can be granted per
// municipio. "eliminar" is intentionally absent: deletion is reserved for
// administrators and never grantable through the matrix.
func MatrixScopes() []string {
	return []string{
		PermVer,
		PermDescargar,
		PermEditar,
		PermImprimir,
	}
}
