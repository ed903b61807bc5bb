package municipios

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
	List(ctx context.Context) ([]Municipio, error)
	Get(ctx context.Context, id int64) (Municipio, error)
	Create(ctx context.Context, num, nombre string, info audit.RequestInfo) (Municipio, error)
	Update(ctx context.Context, id int64, num, nombre *string, info audit.RequestInfo) (Municipio, error)
	SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error
}

// Handler exposes the territory catalog. Reads are open to any session;
// mutations are administrator-only.
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

// MountRoutes registers territory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(requireAdministrator)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.softDelete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list municipios", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "Municipio no localizado en el catálogo actual.")
			return
		}
		h.logger.Error("get municipio", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, m)
}

type createPayload struct {
	Num    string `json:"num" validate:"required,max=10"`
	Nombre string `json:"nombre" validate:"required,max=150"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de municipio no válidos.")
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	m, err := h.service.Create(r.Context(), payload.Num, payload.Nombre, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		if errors.Is(err, ErrNumTaken) {
			httpx.Fail(w, http.StatusConflict, "El número oficial de municipio ya está registrado.")
			return
		}
		h.logger.Error("create municipio", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, m)
}

type updatePayload struct {
	Num    *string `json:"num" validate:"omitempty,max=10"`
	Nombre *string `json:"nombre" validate:"omitempty,min=1,max=150"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload updatePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de municipio no válidos.")
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	m, err := h.service.Update(r.Context(), id, payload.Num, payload.Nombre, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		switch {
		case errors.Is(err, ErrNumTaken):
			httpx.Fail(w, http.StatusConflict, "El número oficial de municipio ya está registrado.")
		case errors.Is(err, shared.ErrNotFound):
			httpx.Fail(w, http.StatusNotFound, "Municipio no localizado en el catálogo actual.")
		default:
			h.logger.Error("update municipio", slog.Int64("id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.OK(w, http.StatusOK, m)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	if err := h.service.SoftDelete(r.Context(), id, audit.RequestInfoFromHTTP(r, &actor.ID)); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "Municipio no localizado en el catálogo actual.")
			return
		}
		h.logger.Error("delete municipio", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Municipio eliminado correctamente."})
}

// Consulta serves the territory-scoped read. The surrounding authorization
// middleware has already verified the actor holds "ver" in this municipio.
func (h *Handler) Consulta(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "municipioID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Identificador no válido.")
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "Municipio no localizado en el catálogo actual.")
			return
		}
		h.logger.Error("consulta municipio", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, m)
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
			httpx.Fail(w, http.StatusForbidden, "Acceso denegado: El catálogo de municipios es exclusivo del personal administrativo.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
