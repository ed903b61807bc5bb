package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sigedo/sigedo/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidDate indicates an unparseable date filter.
var ErrInvalidDate = errors.New("audit: invalid date filter")

// QueryRepository is the read contract of the audit trail.
type QueryRepository interface {
	List(ctx context.Context, filters ListFilters) ([]ListRow, int, error)
	GetByID(ctx context.Context, id int64) (Detail, error)
}

// Filters narrows the audit listing at the API boundary. StartDate and
// EndDate are inclusive calendar days in "2006-01-02" form, interpreted in
// UTC.
type Filters struct {
	Page      int
	Limit     int
	Module    string
	Action    string
	Search    string
	StartDate string
	EndDate   string
	RoleID    int64
	SortAsc   bool
}

// Result wraps a page of entries with pagination metadata.
type Result struct {
	Rows       []ListRow
	Pagination shared.Pagination
}

// Service coordinates the audit trail read side.
type Service struct {
	repo QueryRepository
}

// NewService constructs an audit query service.
func NewService(repo QueryRepository) *Service {
	return &Service{repo: repo}
}

// Logs returns a page of entries, newest first unless SortAsc is set.
func (s *Service) Logs(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	from, to, err := dateWindow(filters.StartDate, filters.EndDate)
	if err != nil {
		return Result{}, err
	}

	rows, total, err := s.repo.List(ctx, ListFilters{
		Module:  filters.Module,
		Action:  filters.Action,
		Search:  filters.Search,
		From:    from,
		To:      to,
		RoleID:  filters.RoleID,
		Limit:   limit,
		Offset:  (page - 1) * limit,
		SortAsc: filters.SortAsc,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Rows:       rows,
		Pagination: shared.NewPagination(page, limit, total),
	}, nil
}

// Log returns the full entry with the resolved actor identity.
func (s *Service) Log(ctx context.Context, id int64) (Detail, error) {
	if s.repo == nil {
		return Detail{}, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.GetByID(ctx, id)
}

// dateWindow snaps the inclusive day filters to UTC day boundaries: the
// first instant of the start day and the last nanosecond of the end day.
func dateWindow(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	if start != "" {
		day, err := time.ParseInLocation("2006-01-02", start, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, start)
		}
		from = day
	}
	if end != "" {
		day, err := time.ParseInLocation("2006-01-02", end, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, end)
		}
		to = day.Add(24*time.Hour - time.Nanosecond)
	}
	return from, to, nil
}
