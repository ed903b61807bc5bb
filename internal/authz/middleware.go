package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/sigedo/sigedo/internal/observability"
	"github.com/sigedo/sigedo/internal/platform/httpx"
	"github.com/sigedo/sigedo/internal/shared"
)

// maxBodyPeek bounds how much of a JSON body is inspected for a municipio id.
const maxBodyPeek = 1 << 20

// Middleware wires territorial authorization checks into HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// ActorFromRequest builds the Actor from the authenticated session.
func ActorFromRequest(r *http.Request) (Actor, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return Actor{}, false
	}
	return Actor{ID: sess.UserID, RoleIDs: sess.RoleIDs}, true
}

// Require guards a route with the named permission. The municipio id is taken
// from the URL parameter, the query string, or a JSON body field, in that
// order. A missing territory for a non-administrator yields 400; a denial
// yields 403; a lookup fault yields 500 and is never reported as a denial.
func (m Middleware) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromRequest(r)
			if !ok {
				httpx.Fail(w, http.StatusUnauthorized, "Sesión no válida o expirada.")
				return
			}

			municipioID := extractMunicipioID(r)
			decision, err := m.Resolver.Resolve(r.Context(), actor, permission, municipioID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz resolve", slog.String("permission", permission), slog.Any("error", err))
				}
				m.observe(permission, "error")
				httpx.Fail(w, http.StatusInternalServerError, "No fue posible validar los privilegios territoriales.")
				return
			}
			if !decision.Allowed {
				m.observe(permission, string(decision.Reason))
				status := http.StatusForbidden
				if decision.Reason == DenyMissingTerritory {
					status = http.StatusBadRequest
				}
				httpx.Fail(w, status, decision.Message)
				return
			}
			m.observe(permission, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) observe(permission, outcome string) {
	if m.Metrics != nil {
		m.Metrics.ObserveAuthzDecision(permission, outcome)
	}
}

// extractMunicipioID locates the territory a request is scoped to.
func extractMunicipioID(r *http.Request) *int64 {
	if raw := chi.URLParam(r, "municipioID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return &id
		}
	}
	if raw := r.URL.Query().Get("municipioId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return &id
		}
	}
	return municipioIDFromBody(r)
}

// municipioIDFromBody peeks into a JSON body for a municipioId field and
// restores the body so the handler can decode it again.
func municipioIDFromBody(r *http.Request) *int64 {
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var probe struct {
		MunicipioID *json.Number `json:"municipioId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.MunicipioID == nil {
		return nil
	}
	id, err := probe.MunicipioID.Int64()
	if err != nil {
		return nil
	}
	return &id
}

// WithActor injects an actor into context for internal callers that do not
// pass through the HTTP middleware (jobs, seed tooling).
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts an actor stored with WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

type actorContextKey struct{}
