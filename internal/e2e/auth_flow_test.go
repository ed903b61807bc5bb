package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sigedo/sigedo/internal/access"
	"github.com/sigedo/sigedo/internal/app"
	"github.com/sigedo/sigedo/internal/audit"
	audithttp "github.com/sigedo/sigedo/internal/audit/http"
	"github.com/sigedo/sigedo/internal/auth"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/cargos"
	"github.com/sigedo/sigedo/internal/municipios"
	"github.com/sigedo/sigedo/internal/permissions"
	"github.com/sigedo/sigedo/internal/roles"
	"github.com/sigedo/sigedo/internal/shared"
	"github.com/sigedo/sigedo/internal/users"
)

type fakeCredentials struct {
	byUsername map[string]auth.Credential
}

func (f *fakeCredentials) FindActiveByUsername(_ context.Context, username string) (auth.Credential, error) {
	cred, ok := f.byUsername[username]
	if !ok {
		return auth.Credential{}, shared.ErrNotFound
	}
	return cred, nil
}

type captureStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *captureStore) Insert(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// grantStore answers matrix lookups from an in-memory set keyed by
// user, municipio and permission.
type grantStore struct {
	grants map[int64]map[int64][]string
}

func (s *grantStore) GrantExists(_ context.Context, userID, municipioID int64, permission string) (bool, error) {
	for _, p := range s.grants[userID][municipioID] {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

type stubUsers struct{}

func (stubUsers) List(context.Context, users.ListFilters) ([]users.ListRow, shared.Pagination, error) {
	return nil, shared.Pagination{}, nil
}
func (stubUsers) Get(context.Context, int64) (users.Detail, error) {
	return users.Detail{}, shared.ErrNotFound
}
func (stubUsers) Create(context.Context, users.CreateInput, int64, audit.RequestInfo) (users.Detail, error) {
	return users.Detail{}, nil
}
func (stubUsers) Update(context.Context, int64, users.UpdateInput, int64, audit.RequestInfo) (users.Detail, error) {
	return users.Detail{}, shared.ErrNotFound
}
func (stubUsers) SoftDelete(context.Context, int64, audit.RequestInfo) error {
	return shared.ErrNotFound
}

type stubAccess struct{}

func (stubAccess) Grants(context.Context, int64) ([]access.Grant, error) { return nil, nil }
func (stubAccess) BatchUpdate(context.Context, int64, []access.Change, audit.RequestInfo) error {
	return nil
}

type stubRoles struct{}

func (stubRoles) List(context.Context) ([]roles.Role, error)    { return nil, nil }
func (stubRoles) Counts(context.Context) ([]roles.Count, error) { return nil, nil }
func (stubRoles) Create(context.Context, string, []int64, audit.RequestInfo) (roles.Role, error) {
	return roles.Role{}, nil
}
func (stubRoles) Update(context.Context, int64, roles.UpdateInput, audit.RequestInfo) (roles.Role, error) {
	return roles.Role{}, shared.ErrNotFound
}
func (stubRoles) SoftDelete(context.Context, int64, audit.RequestInfo) error {
	return shared.ErrNotFound
}

type stubMunicipios struct {
	known map[int64]municipios.Municipio
}

func (s stubMunicipios) List(context.Context) ([]municipios.Municipio, error) { return nil, nil }
func (s stubMunicipios) Get(_ context.Context, id int64) (municipios.Municipio, error) {
	m, ok := s.known[id]
	if !ok {
		return municipios.Municipio{}, shared.ErrNotFound
	}
	return m, nil
}
func (s stubMunicipios) Create(context.Context, string, string, audit.RequestInfo) (municipios.Municipio, error) {
	return municipios.Municipio{}, nil
}
func (s stubMunicipios) Update(context.Context, int64, *string, *string, audit.RequestInfo) (municipios.Municipio, error) {
	return municipios.Municipio{}, shared.ErrNotFound
}
func (s stubMunicipios) SoftDelete(context.Context, int64, audit.RequestInfo) error {
	return shared.ErrNotFound
}

type stubCargos struct{}

func (stubCargos) List(context.Context) ([]cargos.Cargo, error) { return nil, nil }

type stubPermissions struct{}

func (stubPermissions) List(context.Context) ([]permissions.Permission, error) { return nil, nil }

type stubAuditLogs struct{}

func (stubAuditLogs) Logs(context.Context, audit.Filters) (audit.Result, error) {
	return audit.Result{}, nil
}
func (stubAuditLogs) Log(context.Context, int64) (audit.Detail, error) {
	return audit.Detail{}, shared.ErrNotFound
}

type env struct {
	server  *httptest.Server
	audited *captureStore
}

// newEnv boots the full HTTP surface against miniredis-backed sessions,
// in-memory credentials and an in-memory permission matrix.
func newEnv(t *testing.T, grants *grantStore) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	sessions := shared.NewSessionManager(client, time.Hour)

	hash, err := bcrypt.GenerateFromPassword([]byte("secreto1"), bcrypt.MinCost)
	require.NoError(t, err)
	creds := &fakeCredentials{byUsername: map[string]auth.Credential{
		"admin": {
			ID:           1,
			Username:     "admin",
			Email:        "admin@sigedo.local",
			PasswordHash: string(hash),
			RoleIDs:      []int64{shared.AdministratorRoleID},
			RoleNames:    []string{"Administrador"},
		},
		"operador": {
			ID:           2,
			Username:     "operador",
			Email:        "operador@sigedo.local",
			PasswordHash: string(hash),
			RoleIDs:      []int64{2},
			RoleNames:    []string{"Operador"},
		},
	}}

	audited := &captureStore{}
	recorder := audit.NewSyncRecorder(audited, logger, nil)
	authService := auth.NewService(creds, sessions, recorder, logger)

	if grants == nil {
		grants = &grantStore{}
	}

	cfg := &app.Config{
		AppRequestTimeout: 10 * time.Second,
		RateLimit:         1000,
		RateLimitWindow:   time.Minute,
		LoginRateLimit:    1000,
	}
	munis := stubMunicipios{known: map[int64]municipios.Municipio{
		3: {ID: 3, Num: "305", Nombre: "San Miguel", Active: true},
	}}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessions,
		AuthHandler:        auth.NewHandler(logger, authService),
		UsersHandler:       users.NewHandler(logger, stubUsers{}),
		AccessHandler:      access.NewHandler(logger, stubAccess{}),
		RolesHandler:       roles.NewHandler(logger, stubRoles{}),
		PermissionsHandler: permissions.NewHandler(logger, stubPermissions{}),
		MunicipiosHandler:  municipios.NewHandler(logger, munis),
		CargosHandler:      cargos.NewHandler(logger, stubCargos{}),
		AuditHandler:       audithttp.NewHandler(logger, stubAuditLogs{}, nil),
		Authz:              authz.Middleware{Resolver: authz.NewResolver(grants), Logger: logger},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &env{server: server, audited: audited}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func (e *env) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (e *env) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string       `json:"token"`
			User  auth.Profile `json:"user"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

func TestLoginSessionAndLogout(t *testing.T) {
	env := newEnv(t, nil)

	token := env.login(t, "operador", "secreto1")

	resp := env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	var me struct {
		Success bool           `json:"success"`
		Data    shared.Session `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), me.Data.UserID)
	assert.Equal(t, "operador", me.Data.Username)

	resp = env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.audited.mu.Lock()
	defer env.audited.mu.Unlock()
	require.Len(t, env.audited.entries, 1)
	assert.Equal(t, "LOGIN", env.audited.entries[0].Action)
	assert.Equal(t, "AUTH", env.audited.entries[0].Module)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "operador",
		"password": "equivocada",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.audited.mu.Lock()
	defer env.audited.mu.Unlock()
	assert.Empty(t, env.audited.entries)
}
