// Package permissions exposes the atomic action catalog (ver, descargar,
// editar, eliminar, imprimir) referenced by role templates and the
// territorial matrix.
package permissions

import (
	"context"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/platform/httpx"
)

// Permission is one atomic action.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns active permissions ordered by id.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), active
		FROM permissions WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Active); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Lister reads the permission catalog.
type Lister interface {
	List(ctx context.Context) ([]Permission, error)
}

// Handler exposes the permission catalog.
type Handler struct {
	logger *slog.Logger
	repo   Lister
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo Lister) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}
