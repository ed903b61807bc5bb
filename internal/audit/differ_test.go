package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	labels map[int64]string
	err    error
}

func (s *stubLookup) Label(ctx context.Context, id int64) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	label, ok := s.labels[id]
	return label, ok, nil
}

func testPolicy(lookup LabelLookup) *Policy {
	return NewPolicy().WithReference("cargo_id", Reference{
		OutputField: "cargo",
		Fallback:    "Sin cargo",
		Lookup:      lookup,
	})
}

func TestForUpdateRedactsAndFiltersFields(t *testing.T) {
	differ := NewDiffer(testPolicy(nil))

	prev := Snapshot{"password": "a", "nombre": "X", "updated_at": "t1"}
	curr := Snapshot{"password": "b", "nombre": "Y", "updated_at": "t2"}

	details, err := differ.ForUpdate(context.Background(), prev, curr,
		[]string{"password", "nombre", "updated_at"}, DiffOptions{})
	require.NoError(t, err)
	require.NotNil(t, details)

	changes := details[DetailChanges].(map[string]any)
	assert.Equal(t, FieldChange{Old: RedactedValue, New: RedactedValue}, changes["password"])
	assert.Equal(t, FieldChange{Old: "X", New: "Y"}, changes["nombre"])
	assert.NotContains(t, changes, "updated_at")
	assert.Equal(t, "Y", details[DetailDisplayName])
}

func TestForUpdateRedactsEvenWhenValuesEqual(t *testing.T) {
	differ := NewDiffer(testPolicy(nil))

	details, err := differ.ForUpdate(context.Background(),
		Snapshot{"password": "same"}, Snapshot{"password": "same"},
		[]string{"password"}, DiffOptions{})
	require.NoError(t, err)
	changes := details[DetailChanges].(map[string]any)
	assert.Equal(t, FieldChange{Old: RedactedValue, New: RedactedValue}, changes["password"])
}

func TestForUpdateNoOpOnEmptyOrSystemOnlyChanges(t *testing.T) {
	differ := NewDiffer(testPolicy(nil))

	details, err := differ.ForUpdate(context.Background(), Snapshot{}, Snapshot{}, nil, DiffOptions{})
	require.NoError(t, err)
	assert.Nil(t, details, "empty change set must be a no-op")

	details, err = differ.ForUpdate(context.Background(),
		Snapshot{"updated_at": "t1", "created_by": int64(1)},
		Snapshot{"updated_at": "t2", "created_by": int64(2)},
		[]string{"updated_at", "created_by"}, DiffOptions{})
	require.NoError(t, err)
	assert.Nil(t, details, "system-only change set must be a no-op")
}

func TestForUpdateForceKeepsEmptyChangeSet(t *testing.T) {
	differ := NewDiffer(testPolicy(nil))

	details, err := differ.ForUpdate(context.Background(), Snapshot{}, Snapshot{}, nil, DiffOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Empty(t, details[DetailChanges])
}

func TestForUpdateResolvesReferenceLabels(t *testing.T) {
	lookup := &stubLookup{labels: map[int64]string{3: "Archivista", 9: "Director"}}
	differ := NewDiffer(testPolicy(lookup))

	details, err := differ.ForUpdate(context.Background(),
		Snapshot{"cargo_id": int64(3)}, Snapshot{"cargo_id": int64(9)},
		[]string{"cargo_id"}, DiffOptions{})
	require.NoError(t, err)
	changes := details[DetailChanges].(map[string]any)
	assert.Equal(t, FieldChange{Old: "Archivista", New: "Director"}, changes["cargo"])
	assert.NotContains(t, changes, "cargo_id", "raw id field must be replaced by the resolved label")
}

func TestForUpdateReferenceFallbackWhenRowMissing(t *testing.T) {
	lookup := &stubLookup{labels: map[int64]string{3: "Archivista"}}
	differ := NewDiffer(testPolicy(lookup))

	details, err := differ.ForUpdate(context.Background(),
		Snapshot{"cargo_id": int64(404)}, Snapshot{"cargo_id": nil},
		[]string{"cargo_id"}, DiffOptions{})
	require.NoError(t, err)
	changes := details[DetailChanges].(map[string]any)
	assert.Equal(t, FieldChange{Old: "Sin cargo", New: "Sin cargo"}, changes["cargo"])
}

func TestForUpdateReferenceLookupFaultPropagates(t *testing.T) {
	boom := errors.New("db down")
	differ := NewDiffer(testPolicy(&stubLookup{err: boom}))

	_, err := differ.ForUpdate(context.Background(),
		Snapshot{"cargo_id": int64(3)}, Snapshot{"cargo_id": int64(9)},
		[]string{"cargo_id"}, DiffOptions{})
	require.ErrorIs(t, err, boom)
}

func TestForUpdateOverridesInjectDerivedFields(t *testing.T) {
	differ := NewDiffer(testPolicy(nil))

	details, err := differ.ForUpdate(context.Background(),
		Snapshot{"nombre": "X"}, Snapshot{"nombre": "Y"},
		[]string{"nombre"},
		DiffOptions{Overrides: map[string]any{
			"roles": FieldChange{Old: []string{"Consulta"}, New: []string{"Operador"}},
		}})
	require.NoError(t, err)
	changes := details[DetailChanges].(map[string]any)
	assert.Equal(t, FieldChange{Old: []string{"Consulta"}, New: []string{"Operador"}}, changes["roles"])
	assert.Equal(t, FieldChange{Old: "X", New: "Y"}, changes["nombre"])
}

func TestForCreateFiltersResolvesAndInjects(t *testing.T) {
	lookup := &stubLookup{labels: map[int64]string{3: "Archivista"}}
	differ := NewDiffer(testPolicy(lookup))

	snap := Snapshot{
		"username":   "operador1",
		"password":   "hunter2",
		"cargo_id":   int64(3),
		"created_at": "t0",
		"created_by": int64(1),
	}
	details, err := differ.ForCreate(context.Background(), snap, DiffOptions{
		Overrides: map[string]any{"roles": []string{"Operador"}},
	})
	require.NoError(t, err)

	data := details[DetailData].(map[string]any)
	assert.Equal(t, RedactedValue, data["password"])
	assert.Equal(t, "Archivista", data["cargo"])
	assert.NotContains(t, data, "cargo_id")
	assert.NotContains(t, data, "created_at")
	assert.NotContains(t, data, "created_by")
	assert.Equal(t, []string{"Operador"}, data["roles"])
	assert.Equal(t, "operador1", details[DetailDisplayName])
}

func TestDisplayNamePriority(t *testing.T) {
	assert.Equal(t, "Acta", displayName(Snapshot{"nombre": "Acta", "name": "Act", "username": "u"}))
	assert.Equal(t, "Act", displayName(Snapshot{"name": "Act", "username": "u"}))
	assert.Equal(t, "u", displayName(Snapshot{"username": "u"}))
	assert.Nil(t, displayName(Snapshot{"titulo": "irrelevante"}))
	assert.Nil(t, displayName(Snapshot{"nombre": ""}))
}
