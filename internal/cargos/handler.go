package cargos

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sigedo/sigedo/internal/platform/httpx"
)

// Lister reads the cargo catalog.
type Lister interface {
	List(ctx context.Context) ([]Cargo, error)
}

// Handler exposes the cargo catalog.
type Handler struct {
	logger *slog.Logger
	repo   Lister
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo Lister) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers cargo routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list cargos", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}
