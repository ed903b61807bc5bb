package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigedo/sigedo/internal/shared"
)

type stubQueryRepo struct {
	rows     []ListRow
	total    int
	detail   Detail
	err      error
	lastList ListFilters
	lastID   int64
}

func (s *stubQueryRepo) List(ctx context.Context, filters ListFilters) ([]ListRow, int, error) {
	s.lastList = filters
	return s.rows, s.total, s.err
}

func (s *stubQueryRepo) GetByID(ctx context.Context, id int64) (Detail, error) {
	s.lastID = id
	if s.err != nil {
		return Detail{}, s.err
	}
	return s.detail, nil
}

func TestLogsAppliesPagingDefaults(t *testing.T) {
	repo := &stubQueryRepo{total: 45}
	svc := NewService(repo)

	result, err := svc.Logs(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, 20, repo.lastList.Limit)
	assert.Equal(t, 0, repo.lastList.Offset)
	assert.False(t, repo.lastList.SortAsc, "default sort is newest first")
	assert.Equal(t, 1, result.Pagination.Page)
	assert.Equal(t, 45, result.Pagination.Total)
	assert.Equal(t, 3, result.Pagination.TotalPages)
}

func TestLogsClampsLimitAndComputesOffset(t *testing.T) {
	repo := &stubQueryRepo{}
	svc := NewService(repo)

	_, err := svc.Logs(context.Background(), Filters{Page: 3, Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, repo.lastList.Limit)
	assert.Equal(t, 200, repo.lastList.Offset)
}

func TestLogsSnapsDateWindowToUTCDayBounds(t *testing.T) {
	repo := &stubQueryRepo{}
	svc := NewService(repo)

	_, err := svc.Logs(context.Background(), Filters{StartDate: "2024-03-01", EndDate: "2024-03-10"})
	require.NoError(t, err)

	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 3, 10, 23, 59, 59, 999999999, time.UTC)
	assert.True(t, repo.lastList.From.Equal(wantFrom), "from = %s", repo.lastList.From)
	assert.True(t, repo.lastList.To.Equal(wantTo), "to = %s", repo.lastList.To)
}

func TestLogsRejectsMalformedDates(t *testing.T) {
	svc := NewService(&stubQueryRepo{})

	_, err := svc.Logs(context.Background(), Filters{StartDate: "01/03/2024"})
	require.ErrorIs(t, err, ErrInvalidDate)

	_, err = svc.Logs(context.Background(), Filters{EndDate: "not-a-date"})
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestLogsPassesFiltersThrough(t *testing.T) {
	repo := &stubQueryRepo{}
	svc := NewService(repo)

	_, err := svc.Logs(context.Background(), Filters{
		Module: "USERS",
		Action: "UPDATE",
		Search: "operador",
		RoleID: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "USERS", repo.lastList.Module)
	assert.Equal(t, "UPDATE", repo.lastList.Action)
	assert.Equal(t, "operador", repo.lastList.Search)
	assert.Equal(t, int64(2), repo.lastList.RoleID)
}

func TestLogReturnsDetail(t *testing.T) {
	entityID := "42"
	repo := &stubQueryRepo{detail: Detail{
		Entry: Entry{ID: 9, Action: "UPDATE", Module: "USERS", EntityID: &entityID},
		User:  &ActorIdentity{ID: 7, Username: "admin", Roles: []string{"Administrador"}},
	}}
	svc := NewService(repo)

	detail, err := svc.Log(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), repo.lastID)
	require.NotNil(t, detail.User)
	assert.Equal(t, []string{"Administrador"}, detail.User.Roles)
}

func TestLogPropagatesNotFound(t *testing.T) {
	repo := &stubQueryRepo{err: shared.ErrNotFound}
	svc := NewService(repo)

	_, err := svc.Log(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
