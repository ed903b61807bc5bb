package access

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
	admin        bool
	grants       []Grant
	target       string
	targetErr    error
	permissions  []Ref
	municipios   []Ref
	lastGrants   []Change
	lastRevokes  []Change
	batchApplied bool
}

func (r *fakeRepo) GrantsForUser(_ context.Context, _ int64) ([]Grant, error) {
	return r.grants, nil
}

func (r *fakeRepo) TargetIdentity(_ context.Context, _ int64) (string, error) {
	if r.targetErr != nil {
		return "", r.targetErr
	}
	return r.target, nil
}

func (r *fakeRepo) IsAdministrator(_ context.Context, _ int64) (bool, error) {
	return r.admin, nil
}

func (r *fakeRepo) Permissions(_ context.Context) ([]Ref, error) {
	return r.permissions, nil
}

func (r *fakeRepo) Municipios(_ context.Context) ([]Ref, error) {
	return r.municipios, nil
}

func (r *fakeRepo) ActivePermissions(ctx context.Context) ([]Ref, error) {
	return r.permissions, nil
}

func (r *fakeRepo) ActiveMunicipios(ctx context.Context) ([]Ref, error) {
	return r.municipios, nil
}

func (r *fakeRepo) ApplyBatch(_ context.Context, _ int64, grants, revokes []Change) error {
	r.batchApplied = true
	r.lastGrants = grants
	r.lastRevokes = revokes
	return nil
}

func newTestService(repo *fakeRepo, store *captureStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, audit.NewSyncRecorder(store, logger, nil), logger)
}

func TestGrantsPhysicalMatrix(t *testing.T) {
	repo := &fakeRepo{
		grants: []Grant{{MunicipioID: 3, Municipio: "Arteaga", PermissionID: 1, Permission: "ver", IsException: true}},
	}
	svc := newTestService(repo, &captureStore{})

	grants, err := svc.Grants(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, repo.grants, grants)
}

func TestGrantsVirtualMatrixForAdministrators(t *testing.T) {
	repo := &fakeRepo{
		admin:       true,
		permissions: []Ref{{ID: 1, Name: "ver"}, {ID: 2, Name: "descargar"}},
		municipios:  []Ref{{ID: 3, Name: "Arteaga"}, {ID: 4, Name: "Saltillo"}},
	}
	svc := newTestService(repo, &captureStore{})

	grants, err := svc.Grants(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, grants, 4)
	assert.Equal(t, Grant{MunicipioID: 3, Municipio: "Arteaga", PermissionID: 1, Permission: "ver"}, grants[0])
	for _, g := range grants {
		assert.False(t, g.IsException)
	}
}

func TestBatchUpdateAppliesAndRecords(t *testing.T) {
	repo := &fakeRepo{
		target:      "María García",
		permissions: []Ref{{ID: 1, Name: "ver"}, {ID: 2, Name: "descargar"}},
		municipios:  []Ref{{ID: 3, Name: "Arteaga"}, {ID: 4, Name: "Saltillo"}},
	}
	store := &captureStore{}
	svc := newTestService(repo, store)

	err := svc.BatchUpdate(context.Background(), 7, []Change{
		{MunicipioID: 3, PermissionID: 1, Value: true},
		{MunicipioID: 4, PermissionID: 2, Value: false},
	}, audit.RequestInfo{})
	require.NoError(t, err)

	require.Len(t, repo.lastGrants, 1)
	assert.Equal(t, Change{MunicipioID: 3, PermissionID: 1, Value: true}, repo.lastGrants[0])
	require.Len(t, repo.lastRevokes, 1)
	assert.Equal(t, Change{MunicipioID: 4, PermissionID: 2, Value: false}, repo.lastRevokes[0])

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "UPDATE_PERMS", entry.Action)
	assert.Equal(t, "USERS", entry.Module)
	assert.Equal(t, "María García", entry.Details["target_user"])
	assert.Equal(t, "Arteaga, Saltillo", entry.Details["municipality"])
	assert.Equal(t, "BATCH_UPDATE", entry.Details["type"])
	assert.Equal(t, 2, entry.Details["total_changes"])

	changes, ok := entry.Details[audit.DetailChanges].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"ver (Arteaga)"}, changes["added"])
	assert.Equal(t, []string{"descargar (Saltillo)"}, changes["removed"])
}

func TestBatchUpdateRejectsNonGrantablePermission(t *testing.T) {
	repo := &fakeRepo{
		target:      "María García",
		permissions: []Ref{{ID: 1, Name: "ver"}, {ID: 4, Name: "eliminar"}},
		municipios:  []Ref{{ID: 3, Name: "Arteaga"}},
	}
	store := &captureStore{}
	svc := newTestService(repo, store)

	err := svc.BatchUpdate(context.Background(), 7, []Change{
		{MunicipioID: 3, PermissionID: 4, Value: true},
	}, audit.RequestInfo{})
	assert.ErrorIs(t, err, ErrNotGrantable)
	assert.False(t, repo.batchApplied)
	assert.Empty(t, store.entries)

	// Revoking a stray grant of the same permission stays allowed.
	err = svc.BatchUpdate(context.Background(), 7, []Change{
		{MunicipioID: 3, PermissionID: 4, Value: false},
	}, audit.RequestInfo{})
	require.NoError(t, err)
	require.Len(t, repo.lastRevokes, 1)
}

func TestBatchUpdateUnknownTarget(t *testing.T) {
	repo := &fakeRepo{targetErr: shared.ErrNotFound}
	store := &captureStore{}
	svc := newTestService(repo, store)

	err := svc.BatchUpdate(context.Background(), 404, []Change{{MunicipioID: 1, PermissionID: 1, Value: true}}, audit.RequestInfo{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.False(t, repo.batchApplied)
	assert.Empty(t, store.entries)
}

func TestBatchUpdateEmptyChangeSet(t *testing.T) {
	repo := &fakeRepo{}
	store := &captureStore{}
	svc := newTestService(repo, store)

	require.NoError(t, svc.BatchUpdate(context.Background(), 7, nil, audit.RequestInfo{}))
	assert.False(t, repo.batchApplied)
	assert.Empty(t, store.entries)
}
