package municipios

import (
	"context"
	"strconv"

	"log/slog"

	"github.com/sigedo/sigedo/internal/audit"
)

const auditModule = "MUNICIPIOS"

// Repository is the persistence contract for the territory catalog.
type Repository interface {
	List(ctx context.Context) ([]Municipio, error)
	GetByID(ctx context.Context, id int64) (Municipio, error)
	Create(ctx context.Context, num, nombre string) (Municipio, error)
	Update(ctx context.Context, id int64, num, nombre *string) (Municipio, error)
	SoftDelete(ctx context.Context, id int64) error
}

// Service drives the territory catalog and its audit trail.
type Service struct {
	repo     Repository
	differ   *audit.Differ
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, differ *audit.Differ, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, differ: differ, recorder: recorder, logger: logger}
}

// List returns the active territory catalog.
func (s *Service) List(ctx context.Context) ([]Municipio, error) {
	return s.repo.List(ctx)
}

// Get returns one territory.
func (s *Service) Get(ctx context.Context, id int64) (Municipio, error) {
	return s.repo.GetByID(ctx, id)
}

// Create registers a territory and records a CREATE audit entry.
func (s *Service) Create(ctx context.Context, num, nombre string, info audit.RequestInfo) (Municipio, error) {
	m, err := s.repo.Create(ctx, num, nombre)
	if err != nil {
		return Municipio{}, err
	}
	details, err := s.differ.ForCreate(ctx, snapshotOf(m), audit.DiffOptions{})
	if err != nil {
		s.logger.Error("compute create audit details", slog.Any("error", err))
		return m, nil
	}
	s.recorder.Record(info, audit.Event{
		Action:   audit.ActionCreate,
		Module:   auditModule,
		EntityID: strconv.FormatInt(m.ID, 10),
		Details:  details,
	})
	return m, nil
}

// Update mutates a territory and records the field-level diff.
func (s *Service) Update(ctx context.Context, id int64, num, nombre *string, info audit.RequestInfo) (Municipio, error) {
	prev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Municipio{}, err
	}
	curr, err := s.repo.Update(ctx, id, num, nombre)
	if err != nil {
		return Municipio{}, err
	}

	prevSnap, currSnap := snapshotOf(prev), snapshotOf(curr)
	var changed []string
	for field := range prevSnap {
		if prevSnap[field] != currSnap[field] {
			changed = append(changed, field)
		}
	}
	details, err := s.differ.ForUpdate(ctx, prevSnap, currSnap, changed, audit.DiffOptions{})
	if err != nil {
		s.logger.Error("compute update audit details", slog.Any("error", err))
		return curr, nil
	}
	if details != nil {
		s.recorder.Record(info, audit.Event{
			Action:   audit.ActionUpdate,
			Module:   auditModule,
			EntityID: strconv.FormatInt(id, 10),
			Details:  details,
		})
	}
	return curr, nil
}

// SoftDelete retires a territory and records a DELETE audit entry.
func (s *Service) SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.recorder.Record(info, audit.Event{
		Action:   audit.ActionDelete,
		Module:   auditModule,
		EntityID: strconv.FormatInt(id, 10),
		Details: map[string]any{
			audit.DetailDisplayName: m.Nombre,
		},
	})
	return nil
}

func snapshotOf(m Municipio) audit.Snapshot {
	return audit.Snapshot{
		"num":    m.Num,
		"nombre": m.Nombre,
		"active": m.Active,
	}
}
