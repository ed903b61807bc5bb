// Package access administers the territorial permission matrix: which user
// may perform which action inside which municipio.
package access

// Grant is one matrix cell surfaced to the administration UI. For
// administrators the matrix is virtual and IsException is always false.
type Grant struct {
	MunicipioID  int64  `json:"municipio_id"`
	Municipio    string `json:"municipio"`
	PermissionID int64  `json:"permission_id"`
	Permission   string `json:"permission"`
	IsException  bool   `json:"is_exception"`
}

// Change toggles one matrix cell. Value true grants, false revokes.
type Change struct {
	MunicipioID  int64 `json:"municipioId"`
	PermissionID int64 `json:"permissionId"`
	Value        bool  `json:"value"`
}

// Ref is an id/name pair from one of the reference catalogs.
type Ref struct {
	ID   int64
	Name string
}
