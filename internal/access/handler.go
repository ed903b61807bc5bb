package access

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/platform/httpx"
	"github.com/sigedo/sigedo/internal/shared"
)

// MatrixService is the business contract the handler depends on.
type MatrixService interface {
	Grants(ctx context.Context, userID int64) ([]Grant, error)
	BatchUpdate(ctx context.Context, userID int64, changes []Change, info audit.RequestInfo) error
}

// Handler exposes matrix administration. Administrator-only.
type Handler struct {
	logger    *slog.Logger
	service   MatrixService
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service MatrixService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers matrix routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireAdministrator)
	r.Get("/users/{id}/permissions", h.grants)
	r.Put("/users/{id}/permissions", h.batchUpdate)
}

func (h *Handler) grants(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	grants, err := h.service.Grants(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "list grants", userID, err)
		return
	}
	httpx.OK(w, http.StatusOK, grants)
}

type batchPayload struct {
	Changes []changePayload `json:"changes" validate:"required,min=1,dive"`
}

type changePayload struct {
	MunicipioID  int64 `json:"municipioId" validate:"required,gt=0"`
	PermissionID int64 `json:"permissionId" validate:"required,gt=0"`
	Value        bool  `json:"value"`
}

func (h *Handler) batchUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var payload batchPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cambios de permisos no válidos.")
		return
	}

	changes := make([]Change, len(payload.Changes))
	for i, c := range payload.Changes {
		changes[i] = Change{MunicipioID: c.MunicipioID, PermissionID: c.PermissionID, Value: c.Value}
	}

	actor, _ := authz.ActorFromRequest(r)
	if err := h.service.BatchUpdate(r.Context(), userID, changes, audit.RequestInfoFromHTTP(r, &actor.ID)); err != nil {
		h.respondServiceError(w, "batch update grants", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Permisos actualizados correctamente."})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, userID int64, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Fail(w, http.StatusNotFound, "Usuario no encontrado.")
		return
	}
	if errors.Is(err, ErrNotGrantable) {
		httpx.Fail(w, http.StatusBadRequest, "Ese permiso no puede asignarse por municipio.")
		return
	}
	h.logger.Error(op, slog.Int64("user_id", userID), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.ActorFromRequest(r)
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Sesión no válida o expirada.")
			return
		}
		if !actor.IsAdministrator() {
			httpx.Fail(w, http.StatusForbidden, "Acceso denegado: La gestión de permisos es exclusiva del personal administrativo.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Identificador no válido.")
		return 0, false
	}
	return id, true
}
