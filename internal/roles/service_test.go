package roles

import (
	"context"
	"io"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/shared"
)

type captureStore struct {
	entries []audit.Entry
}

func (s *captureStore) Insert(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type fakeRepo struct {
	roles        map[int64]Role
	nextID       int64
	lastTemplate []int64
	templateSet  bool
	deleted      []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{roles: make(map[int64]Role), nextID: 1}
}

func (r *fakeRepo) List(_ context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		if role.Active {
			out = append(out, role)
		}
	}
	return out, nil
}

func (r *fakeRepo) Counts(_ context.Context) ([]Count, error) {
	return nil, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (Role, error) {
	role, ok := r.roles[id]
	if !ok || !role.Active {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (r *fakeRepo) Create(_ context.Context, name string, permissionIDs []int64) (Role, error) {
	role := Role{ID: r.nextID, Name: name, Active: true, BasePermissions: refsFor(permissionIDs)}
	r.nextID++
	r.roles[role.ID] = role
	return role, nil
}

func (r *fakeRepo) SetName(_ context.Context, id int64, name string) error {
	role := r.roles[id]
	role.Name = name
	r.roles[id] = role
	return nil
}

func (r *fakeRepo) SetTemplate(_ context.Context, roleID int64, permissionIDs []int64) error {
	r.templateSet = true
	r.lastTemplate = permissionIDs
	role := r.roles[roleID]
	role.BasePermissions = refsFor(permissionIDs)
	r.roles[roleID] = role
	return nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, id int64) error {
	role := r.roles[id]
	role.Active = false
	r.roles[id] = role
	r.deleted = append(r.deleted, id)
	return nil
}

var permissionCatalog = map[int64]string{
	1: "ver",
	2: "descargar",
	3: "editar",
	4: "imprimir",
}

func refsFor(ids []int64) []PermissionRef {
	refs := []PermissionRef{}
	for _, id := range ids {
		refs = append(refs, PermissionRef{ID: id, Name: permissionCatalog[id]})
	}
	return refs
}

func newTestService(repo *fakeRepo, store *captureStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, audit.NewSyncRecorder(store, logger, nil), logger)
}

func TestCreateRecordsTemplate(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)

	role, err := svc.Create(context.Background(), "Operador", []int64{1, 2}, audit.RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, "Operador", role.Name)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "CREATE", entry.Action)
	assert.Equal(t, "ROLES", entry.Module)
	data, ok := entry.Details[audit.DetailData].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Operador", data["name"])
	assert.Equal(t, []string{"ver", "descargar"}, data["permissions"])
}

func TestUpdateRecordsTemplateDelta(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	role, err := svc.Create(context.Background(), "Consulta", []int64{1}, audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	updated, err := svc.Update(context.Background(), role.ID, UpdateInput{
		Permissions: []int64{1, 4},
		PermsSet:    true,
	}, audit.RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, repo.lastTemplate)
	assert.Len(t, updated.BasePermissions, 2)

	require.Len(t, store.entries, 1)
	changes, ok := store.entries[0].Details[audit.DetailChanges].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.FieldChange{
		Old: []string{"ver"},
		New: []string{"ver", "imprimir"},
	}, changes["permissions"])
}

func TestUpdateRenameOnly(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	role, err := svc.Create(context.Background(), "Consulta", []int64{1}, audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	name := "Lectura"
	_, err = svc.Update(context.Background(), role.ID, UpdateInput{Name: &name}, audit.RequestInfo{})
	require.NoError(t, err)
	assert.False(t, repo.templateSet)

	require.Len(t, store.entries, 1)
	changes := store.entries[0].Details[audit.DetailChanges].(map[string]any)
	assert.Equal(t, audit.FieldChange{Old: "Consulta", New: "Lectura"}, changes["name"])
	assert.NotContains(t, changes, "permissions")
}

func TestUpdateWithoutChangesEmitsNoEntry(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	role, err := svc.Create(context.Background(), "Consulta", []int64{1}, audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	_, err = svc.Update(context.Background(), role.ID, UpdateInput{
		Permissions: []int64{1},
		PermsSet:    true,
	}, audit.RequestInfo{})
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestSoftDeleteRecordsEntry(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	role, err := svc.Create(context.Background(), "Consulta", nil, audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	require.NoError(t, svc.SoftDelete(context.Background(), role.ID, audit.RequestInfo{}))
	assert.Equal(t, []int64{role.ID}, repo.deleted)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "DELETE", store.entries[0].Action)
	assert.Equal(t, "Consulta", store.entries[0].Details[audit.DetailDisplayName])
}
