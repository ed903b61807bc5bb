// Package municipios manages the territory catalog that segregates every
// document and access grant.
package municipios

// Municipio is one administrative territory.
type Municipio struct {
	ID     int64  `json:"id"`
	Num    string `json:"num"`
	Nombre string `json:"nombre"`
	Active bool   `json:"active"`
}
