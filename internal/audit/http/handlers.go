// Package audithttp exposes the read side of the audit trail.
package audithttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/platform/httpx"
	"github.com/sigedo/sigedo/internal/shared"
)

// LogService is the business contract for audit queries.
type LogService interface {
	Logs(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Log(ctx context.Context, id int64) (audit.Detail, error)
}

// DigestScheduler enqueues a background digest run for one UTC day. An
// empty date means the previous day.
type DigestScheduler interface {
	ScheduleDigest(ctx context.Context, date string) error
}

// Handler serves the audit log query endpoints. The trail is an
// administrative surface: every route requires the administrator role.
type Handler struct {
	logger    *slog.Logger
	service   LogService
	scheduler DigestScheduler
}

// NewHandler builds a Handler instance. The scheduler may be nil when no
// worker queue is deployed.
func NewHandler(logger *slog.Logger, service LogService, scheduler DigestScheduler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, scheduler: scheduler}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(requireAdministrator)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/digest", h.scheduleDigest)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := parseFilters(r)
	result, err := h.service.Logs(r.Context(), filters)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidDate) {
			httpx.Fail(w, http.StatusBadRequest, "Formato de fecha no válido; se espera AAAA-MM-DD.")
			return
		}
		h.logger.Error("list audit logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OKPage(w, http.StatusOK, result.Rows, result.Pagination)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Identificador no válido.")
		return
	}
	detail, err := h.service.Log(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Fail(w, http.StatusNotFound, "Registro no encontrado.")
			return
		}
		h.logger.Error("get audit log", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, detail)
}

type digestPayload struct {
	Date string `json:"date"`
}

func (h *Handler) scheduleDigest(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		httpx.Fail(w, http.StatusServiceUnavailable, "El resumen de auditoría no está disponible.")
		return
	}
	var payload digestPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		httpx.Fail(w, http.StatusBadRequest, "Cuerpo de la petición no válido.")
		return
	}
	if payload.Date != "" {
		if _, err := time.Parse("2006-01-02", payload.Date); err != nil {
			httpx.Fail(w, http.StatusBadRequest, "Formato de fecha no válido; se espera AAAA-MM-DD.")
			return
		}
	}
	if err := h.scheduler.ScheduleDigest(r.Context(), payload.Date); err != nil {
		h.logger.Error("schedule audit digest", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, httpx.Envelope{Success: true, Message: "Resumen de auditoría programado."})
}

func parseFilters(r *http.Request) audit.Filters {
	q := r.URL.Query()
	filters := audit.Filters{
		Module:    q.Get("module"),
		Action:    q.Get("action"),
		Search:    strings.TrimSpace(q.Get("search")),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		SortAsc:   strings.EqualFold(q.Get("sort"), "asc"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filters.Limit = limit
	}
	if roleID := q.Get("roleId"); roleID != "" && roleID != "ALL" {
		if id, err := strconv.ParseInt(roleID, 10, 64); err == nil {
			filters.RoleID = id
		}
	}
	return filters
}

func requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := authz.ActorFromRequest(r)
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Sesión no válida o expirada.")
			return
		}
		if !actor.IsAdministrator() {
			httpx.Fail(w, http.StatusForbidden, "Acceso denegado: El historial de auditoría es exclusivo del personal administrativo.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
