package app

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/sigedo/sigedo/internal/access"
	audithttp "github.com/sigedo/sigedo/internal/audit/http"
	"github.com/sigedo/sigedo/internal/auth"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/cargos"
	"github.com/sigedo/sigedo/internal/municipios"
	"github.com/sigedo/sigedo/internal/observability"
	"github.com/sigedo/sigedo/internal/permissions"
	"github.com/sigedo/sigedo/internal/roles"
	"github.com/sigedo/sigedo/internal/shared"
	"github.com/sigedo/sigedo/internal/users"
	"github.com/sigedo/sigedo/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	AccessHandler      *access.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *permissions.Handler
	MunicipiosHandler  *municipios.Handler
	CargosHandler      *cargos.Handler
	AuditHandler       *audithttp.Handler
	JobsHandler        *jobs.Handler
	Authz              authz.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with SIGEDO defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Credential stuffing gets its own, much tighter limit.
			if params.Config != nil && params.Config.LoginRateLimit > 0 {
				r.Use(httprate.Limit(params.Config.LoginRateLimit, params.Config.RateLimitWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP)))
			}
			params.AuthHandler.MountRoutes(r)
		})
		r.Route("/users", params.UsersHandler.MountRoutes)
		r.Route("/access", params.AccessHandler.MountRoutes)
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		r.Route("/municipios", params.MunicipiosHandler.MountRoutes)
		r.Route("/cargos", params.CargosHandler.MountRoutes)
		r.Route("/audit-logs", params.AuditHandler.MountRoutes)
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}

		// Territory-scoped consultation. The resolver middleware extracts the
		// municipio id from the URL and demands the "ver" grant there.
		r.Route("/consulta", func(r chi.Router) {
			r.With(params.Authz.Require(shared.PermVer)).
				Get("/municipios/{municipioID}", params.MunicipiosHandler.Consulta)
		})
	})

	return r
}
