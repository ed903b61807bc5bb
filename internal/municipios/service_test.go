package municipios

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
	items   map[int64]Municipio
	nextID  int64
	deleted []int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[int64]Municipio), nextID: 1}
}

func (r *fakeRepo) List(_ context.Context) ([]Municipio, error) {
	var out []Municipio
	for _, m := range r.items {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (Municipio, error) {
	m, ok := r.items[id]
	if !ok {
		return Municipio{}, shared.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) Create(_ context.Context, num, nombre string) (Municipio, error) {
	m := Municipio{ID: r.nextID, Num: num, Nombre: nombre, Active: true}
	r.nextID++
	r.items[m.ID] = m
	return m, nil
}

func (r *fakeRepo) Update(_ context.Context, id int64, num, nombre *string) (Municipio, error) {
	m, ok := r.items[id]
	if !ok {
		return Municipio{}, shared.ErrNotFound
	}
	if num != nil {
		m.Num = *num
	}
	if nombre != nil {
		m.Nombre = *nombre
	}
	r.items[id] = m
	return m, nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, id int64) error {
	m, ok := r.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	m.Active = false
	r.items[id] = m
	r.deleted = append(r.deleted, id)
	return nil
}

func newTestService(repo *fakeRepo, store *captureStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, audit.NewDiffer(nil), audit.NewSyncRecorder(store, logger, nil), logger)
}

func TestCreateRecordsSnapshot(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)

	m, err := svc.Create(context.Background(), "030", "Saltillo", audit.RequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, "Saltillo", m.Nombre)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "CREATE", entry.Action)
	assert.Equal(t, "MUNICIPIOS", entry.Module)
	data := entry.Details[audit.DetailData].(map[string]any)
	assert.Equal(t, "030", data["num"])
	assert.Equal(t, "Saltillo", data["nombre"])
	assert.Equal(t, "Saltillo", entry.Details[audit.DetailDisplayName])
}

func TestUpdateRecordsDiff(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	m, err := svc.Create(context.Background(), "030", "Saltillo", audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	nombre := "Saltillo Norte"
	_, err = svc.Update(context.Background(), m.ID, nil, &nombre, audit.RequestInfo{})
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	changes := store.entries[0].Details[audit.DetailChanges].(map[string]any)
	assert.Equal(t, audit.FieldChange{Old: "Saltillo", New: "Saltillo Norte"}, changes["nombre"])
	assert.NotContains(t, changes, "num")
}

func TestUpdateWithoutChangesEmitsNoEntry(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	m, err := svc.Create(context.Background(), "030", "Saltillo", audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	_, err = svc.Update(context.Background(), m.ID, nil, nil, audit.RequestInfo{})
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestSoftDeleteRecordsEntry(t *testing.T) {
	repo := newFakeRepo()
	store := &captureStore{}
	svc := newTestService(repo, store)
	m, err := svc.Create(context.Background(), "030", "Saltillo", audit.RequestInfo{})
	require.NoError(t, err)
	store.entries = nil

	require.NoError(t, svc.SoftDelete(context.Background(), m.ID, audit.RequestInfo{}))
	assert.Equal(t, []int64{m.ID}, repo.deleted)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "DELETE", store.entries[0].Action)
	assert.Equal(t, "Saltillo", store.entries[0].Details[audit.DetailDisplayName])
}
