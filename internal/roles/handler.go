package roles

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

// CatalogService is the business contract the handler depends on.
type CatalogService interface {
	List(ctx context.Context) ([]Role, error)
	Counts(ctx context.Context) ([]Count, error)
	Create(ctx context.Context, name string, permissionIDs []int64, info audit.RequestInfo) (Role, error)
	Update(ctx context.Context, id int64, input UpdateInput, info audit.RequestInfo) (Role, error)
	SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error
}

// Handler exposes role catalog administration. Administrator-only.
type Handler struct {
	logger    *slog.Logger
	service   CatalogService
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service CatalogService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireAdministrator)
	r.Get("/", h.list)
	r.Get("/counts", h.counts)
	r.Post("/", h.create)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.softDelete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Counts(r.Context())
	if err != nil {
		h.logger.Error("role counts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

type createPayload struct {
	Name        string  `json:"name" validate:"required,min=3,max=50"`
	Permissions []int64 `json:"permissions" validate:"omitempty,dive,gt=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de rol no válidos.")
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	role, err := h.service.Create(r.Context(), payload.Name, payload.Permissions, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		if errors.Is(err, ErrNameTaken) {
			httpx.Fail(w, http.StatusConflict, "El identificador de rol ya existe.")
			return
		}
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, role)
}

type updatePayload struct {
	Name        *string `json:"name" validate:"omitempty,min=3,max=50"`
	Permissions []int64 `json:"permissions" validate:"omitempty,dive,gt=0"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var raw map[string]any
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	var payload updatePayload
	if name, found := raw["name"].(string); found {
		payload.Name = &name
	}
	_, permsSet := raw["permissions"]
	if permsSet {
		list, isList := raw["permissions"].([]any)
		if !isList {
			httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
			return
		}
		payload.Permissions = []int64{}
		for _, item := range list {
			number, isNumber := item.(float64)
			if !isNumber {
				httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
				return
			}
			payload.Permissions = append(payload.Permissions, int64(number))
		}
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de rol no válidos.")
		return
	}

	actor, _ := authz.ActorFromRequest(r)
	role, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:        payload.Name,
		Permissions: payload.Permissions,
		PermsSet:    permsSet,
	}, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		switch {
		case errors.Is(err, ErrNameTaken):
			httpx.Fail(w, http.StatusConflict, "El identificador de rol ya existe.")
		case errors.Is(err, shared.ErrNotFound):
			httpx.Fail(w, http.StatusNotFound, "Rol no encontrado.")
		default:
			h.logger.Error("update role", slog.Int64("id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.OK(w, http.StatusOK, role)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	if err := h.service.SoftDelete(r.Context(), id, audit.RequestInfoFromHTTP(r, &actor.ID)); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "Rol no encontrado.")
			return
		}
		h.logger.Error("delete role", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Rol eliminado correctamente."})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Identificador no válido.")
		return 0, false
	}
	return id, true
}

func requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.ActorFromRequest(r)
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Sesión no válida o expirada.")
			return
		}
		if !actor.IsAdministrator() {
			httpx.Fail(w, http.StatusForbidden, "Acceso denegado: La gestión de roles es exclusiva del personal administrativo.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
