package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sigedo/sigedo/internal/access"
	"github.com/sigedo/sigedo/internal/app"
	"github.com/sigedo/sigedo/internal/audit"
	audithttp "github.com/sigedo/sigedo/internal/audit/http"
	"github.com/sigedo/sigedo/internal/auth"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/cargos"
	"github.com/sigedo/sigedo/internal/municipios"
	"github.com/sigedo/sigedo/internal/observability"
	"github.com/sigedo/sigedo/internal/permissions"
	"github.com/sigedo/sigedo/internal/platform/cache"
	"github.com/sigedo/sigedo/internal/platform/db"
	"github.com/sigedo/sigedo/internal/roles"
	"github.com/sigedo/sigedo/internal/shared"
	"github.com/sigedo/sigedo/internal/users"
	"github.com/sigedo/sigedo/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionTTL)

	cargosRepo := cargos.NewRepository(pool)

	auditRepo := audit.NewRepository(pool)
	auditPolicy := audit.NewPolicy().
		WithReference("cargo_id", audit.Reference{
			OutputField: "cargo",
			Fallback:    cargos.FallbackLabel,
			Lookup:      cargosRepo,
		})
	differ := audit.NewDiffer(auditPolicy)
	recorder := audit.NewRecorder(auditRepo, logger, metrics)
	auditService := audit.NewService(auditRepo)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	auditHandler := audithttp.NewHandler(logger, auditService, jobsClient)

	authzRepo := authz.NewRepository(pool)
	resolver := authz.NewResolver(authzRepo)
	accessTerritories := authz.NewService(authzRepo)
	authzMiddleware := authz.Middleware{
		Resolver: resolver,
		Logger:   logger,
		Metrics:  metrics,
	}

	authRepo := auth.NewPGRepository(pool)
	authService := auth.NewService(authRepo, sessionManager, recorder, logger)
	authHandler := auth.NewHandler(logger, authService)

	usersRepo := users.NewPGRepository(pool)
	usersService := users.NewService(usersRepo, accessTerritories, differ, recorder, logger)
	usersHandler := users.NewHandler(logger, usersService)

	accessRepo := access.NewPGRepository(pool)
	accessService := access.NewService(accessRepo, recorder, logger)
	accessHandler := access.NewHandler(logger, accessService)

	rolesRepo := roles.NewPGRepository(pool)
	rolesService := roles.NewService(rolesRepo, recorder, logger)
	rolesHandler := roles.NewHandler(logger, rolesService)

	permissionsRepo := permissions.NewRepository(pool)
	permissionsHandler := permissions.NewHandler(logger, permissionsRepo)

	municipiosRepo := municipios.NewPGRepository(pool)
	municipiosService := municipios.NewService(municipiosRepo, differ, recorder, logger)
	municipiosHandler := municipios.NewHandler(logger, municipiosService)

	cargosHandler := cargos.NewHandler(logger, cargosRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		AccessHandler:      accessHandler,
		RolesHandler:       rolesHandler,
		PermissionsHandler: permissionsHandler,
		MunicipiosHandler:  municipiosHandler,
		CargosHandler:      cargosHandler,
		AuditHandler:       auditHandler,
		JobsHandler:        jobsHandler,
		Authz:              authzMiddleware,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
