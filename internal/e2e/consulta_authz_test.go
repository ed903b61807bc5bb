package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigedo/sigedo/internal/shared"
)

func TestConsultaRequiresTerritorialGrant(t *testing.T) {
	env := newEnv(t, &grantStore{grants: map[int64]map[int64][]string{
		2: {3: {shared.PermVer}},
	}})
	token := env.login(t, "operador", "secreto1")

	resp := env.do(t, http.MethodGet, "/api/consulta/municipios/3", token, nil)
	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Nombre string `json:"nombre"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "San Miguel", envelope.Data.Nombre)
}

func TestConsultaDeniesUngrantedTerritory(t *testing.T) {
	env := newEnv(t, &grantStore{grants: map[int64]map[int64][]string{
		2: {3: {shared.PermVer}},
	}})
	token := env.login(t, "operador", "secreto1")

	resp := env.do(t, http.MethodGet, "/api/consulta/municipios/9", token, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "ver")
}

func TestConsultaAdministratorBypassesMatrix(t *testing.T) {
	env := newEnv(t, &grantStore{})
	token := env.login(t, "admin", "secreto1")

	resp := env.do(t, http.MethodGet, "/api/consulta/municipios/3", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsultaWithoutSessionIsUnauthorized(t *testing.T) {
	env := newEnv(t, &grantStore{})

	resp := env.do(t, http.MethodGet, "/api/consulta/municipios/3", "", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
