// Package cargos manages the job-title catalog referenced by user records.
package cargos

// Cargo is a job title assigned to users.
type Cargo struct {
	ID     int64  `json:"id"`
	Nombre string `json:"nombre"`
	Active bool   `json:"active"`
}

// FallbackLabel is substituted when a referenced cargo no longer exists.
const FallbackLabel = "Sin cargo"
