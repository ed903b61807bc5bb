package users

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/platform/httpx"
	"github.com/sigedo/sigedo/internal/shared"
)

// ManagementService is the business contract the handler depends on.
type ManagementService interface {
	List(ctx context.Context, filters ListFilters) ([]ListRow, shared.Pagination, error)
	Get(ctx context.Context, id int64) (Detail, error)
	Create(ctx context.Context, input CreateInput, adminID int64, info audit.RequestInfo) (Detail, error)
	Update(ctx context.Context, id int64, input UpdateInput, adminID int64, info audit.RequestInfo) (Detail, error)
	SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error
}

// Handler exposes user management. Every route is administrator-only.
type Handler struct {
	logger    *slog.Logger
	service   ManagementService
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service ManagementService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireAdministrator)
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.softDelete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := parseListFilters(r)
	rows, pagination, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OKPage(w, http.StatusOK, rows, pagination)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "get user", id, err)
		return
	}
	httpx.OK(w, http.StatusOK, detail)
}

type createPayload struct {
	Username       string  `json:"username" validate:"required,min=3,max=50"`
	Email          string  `json:"email" validate:"required,email"`
	Password       string  `json:"password" validate:"required,min=8"`
	FirstName      string  `json:"first_name" validate:"required"`
	LastName       string  `json:"last_name" validate:"required"`
	SecondLastName string  `json:"second_last_name"`
	CargoID        *int64  `json:"cargo_id"`
	RoleIDs        []int64 `json:"roles" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de usuario incompletos o no válidos.")
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	detail, err := h.service.Create(r.Context(), CreateInput{
		Username:       payload.Username,
		Email:          payload.Email,
		Password:       payload.Password,
		FirstName:      payload.FirstName,
		LastName:       payload.LastName,
		SecondLastName: payload.SecondLastName,
		CargoID:        payload.CargoID,
		RoleIDs:        payload.RoleIDs,
	}, actor.ID, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			httpx.Fail(w, http.StatusConflict, "El nombre de usuario o correo ya está registrado.")
			return
		}
		h.logger.Error("create user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, detail)
}

type updatePayload struct {
	Username       *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Password       *string `json:"password" validate:"omitempty,min=8"`
	FirstName      *string `json:"first_name" validate:"omitempty,min=1"`
	LastName       *string `json:"last_name" validate:"omitempty,min=1"`
	SecondLastName *string `json:"second_last_name"`
	CargoID        *int64  `json:"cargo_id"`
	RoleIDs        []int64 `json:"roles" validate:"omitempty,min=1,dive,gt=0"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Raw keys distinguish "field absent" from "field set to null".
	var raw map[string]any
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	payload, err := decodeUpdatePayload(raw)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Datos de usuario no válidos.")
		return
	}
	_, cargoSet := raw["cargo_id"]
	_, rolesSet := raw["roles"]

	actor, _ := authz.ActorFromRequest(r)
	detail, err := h.service.Update(r.Context(), id, UpdateInput{
		Username:       payload.Username,
		Email:          payload.Email,
		Password:       payload.Password,
		FirstName:      payload.FirstName,
		LastName:       payload.LastName,
		SecondLastName: payload.SecondLastName,
		CargoID:        payload.CargoID,
		CargoIDSet:     cargoSet,
		RoleIDs:        payload.RoleIDs,
		RolesSet:       rolesSet,
	}, actor.ID, audit.RequestInfoFromHTTP(r, &actor.ID))
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			httpx.Fail(w, http.StatusConflict, "El nombre de usuario o correo ya está registrado.")
			return
		}
		h.respondServiceError(w, "update user", id, err)
		return
	}
	httpx.OK(w, http.StatusOK, detail)
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := authz.ActorFromRequest(r)
	if err := h.service.SoftDelete(r.Context(), id, audit.RequestInfoFromHTTP(r, &actor.ID)); err != nil {
		h.respondServiceError(w, "delete user", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: "Usuario desactivado correctamente."})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, id int64, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Fail(w, http.StatusNotFound, "Usuario no encontrado.")
		return
	}
	h.logger.Error(op, slog.Int64("id", id), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, "Identificador no válido.")
		return 0, false
	}
	return id, true
}

func parseListFilters(r *http.Request) ListFilters {
	q := r.URL.Query()
	filters := ListFilters{Search: strings.TrimSpace(q.Get("search"))}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filters.Limit = limit
	}
	switch strings.ToLower(q.Get("active")) {
	case "false":
		active := false
		filters.Active = &active
	case "all":
		// No active filter: listings include deactivated accounts.
	default:
		active := true
		filters.Active = &active
	}
	if cargoID, err := strconv.ParseInt(q.Get("cargoId"), 10, 64); err == nil {
		filters.CargoID = cargoID
	}
	if roleID, err := strconv.ParseInt(q.Get("roleId"), 10, 64); err == nil {
		filters.RoleID = roleID
	}
	return filters
}

func decodeUpdatePayload(raw map[string]any) (updatePayload, error) {
	var payload updatePayload
	assignString := func(key string, target **string) error {
		value, ok := raw[key]
		if !ok || value == nil {
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return errors.New("users: expected string field " + key)
		}
		*target = &s
		return nil
	}
	for key, target := range map[string]**string{
		"username":         &payload.Username,
		"email":            &payload.Email,
		"password":         &payload.Password,
		"first_name":       &payload.FirstName,
		"last_name":        &payload.LastName,
		"second_last_name": &payload.SecondLastName,
	} {
		if err := assignString(key, target); err != nil {
			return updatePayload{}, err
		}
	}
	if value, ok := raw["cargo_id"]; ok && value != nil {
		number, ok := value.(float64)
		if !ok {
			return updatePayload{}, errors.New("users: expected numeric cargo_id")
		}
		cargoID := int64(number)
		payload.CargoID = &cargoID
	}
	if value, ok := raw["roles"]; ok && value != nil {
		list, ok := value.([]any)
		if !ok {
			return updatePayload{}, errors.New("users: expected roles array")
		}
		for _, item := range list {
			number, ok := item.(float64)
			if !ok {
				return updatePayload{}, errors.New("users: expected numeric role id")
			}
			payload.RoleIDs = append(payload.RoleIDs, int64(number))
		}
	}
	return payload, nil
}

func requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.ActorFromRequest(r)
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Sesión no válida o expirada.")
			return
		}
		if !actor.IsAdministrator() {
			httpx.Fail(w, http.StatusForbidden, "Acceso denegado: La gestión de usuarios es exclusiva del personal administrativo.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
