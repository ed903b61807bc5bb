package roles

import (
	"context"
	"strconv"

	"log/slog"

	"github.com/sigedo/sigedo/internal/audit"
)

const auditModule = "ROLES"

// Repository is the persistence contract for role management.
type Repository interface {
	List(ctx context.Context) ([]Role, error)
	Counts(ctx context.Context) ([]Count, error)
	GetByID(ctx context.Context, id int64) (Role, error)
	Create(ctx context.Context, name string, permissionIDs []int64) (Role, error)
	SetName(ctx context.Context, id int64, name string) error
	SetTemplate(ctx context.Context, roleID int64, permissionIDs []int64) error
	SoftDelete(ctx context.Context, id int64) error
}

// Service drives the role catalog and its audit trail.
type Service struct {
	repo     Repository
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recorder: recorder, logger: logger}
}

// List returns the active role catalog.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Counts returns active-user occupancy per role.
func (s *Service) Counts(ctx context.Context) ([]Count, error) {
	return s.repo.Counts(ctx)
}

// Create registers a role with its base permission template.
func (s *Service) Create(ctx context.Context, name string, permissionIDs []int64, info audit.RequestInfo) (Role, error) {
	role, err := s.repo.Create(ctx, name, permissionIDs)
	if err != nil {
		return Role{}, err
	}
	s.recorder.Record(info, audit.Event{
		Action:   audit.ActionCreate,
		Module:   auditModule,
		EntityID: strconv.FormatInt(role.ID, 10),
		Details: map[string]any{
			audit.DetailData: map[string]any{
				"name":        role.Name,
				"permissions": permissionNames(role.BasePermissions),
			},
			audit.DetailDisplayName: role.Name,
		},
	})
	return role, nil
}

// UpdateInput mutates a role. A nil Permissions slice leaves the template
// untouched; an empty one clears it.
type UpdateInput struct {
	Name        *string
	Permissions []int64
	PermsSet    bool
}

// Update renames the role and synchronises its template, recording one
// UPDATE entry describing both the rename and the template delta.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput, info audit.RequestInfo) (Role, error) {
	prev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Role{}, err
	}

	changes := map[string]any{}
	if input.Name != nil && *input.Name != prev.Name {
		if err := s.repo.SetName(ctx, id, *input.Name); err != nil {
			return Role{}, err
		}
		changes["name"] = audit.FieldChange{Old: prev.Name, New: *input.Name}
	}
	if input.PermsSet {
		if err := s.repo.SetTemplate(ctx, id, input.Permissions); err != nil {
			return Role{}, err
		}
	}

	curr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if input.PermsSet && !sameTemplate(prev.BasePermissions, curr.BasePermissions) {
		changes["permissions"] = audit.FieldChange{
			Old: permissionNames(prev.BasePermissions),
			New: permissionNames(curr.BasePermissions),
		}
	}

	if len(changes) > 0 {
		s.recorder.Record(info, audit.Event{
			Action:   audit.ActionUpdate,
			Module:   auditModule,
			EntityID: strconv.FormatInt(id, 10),
			Details: map[string]any{
				audit.DetailChanges:     changes,
				audit.DetailDisplayName: curr.Name,
			},
		})
	}
	return curr, nil
}

// SoftDelete retires a role from the catalog.
func (s *Service) SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error {
	role, err := s.repo.GetByID(ctx, id)
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
			audit.DetailDisplayName: role.Name,
		},
	})
	return nil
}

func permissionNames(refs []PermissionRef) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}

func sameTemplate(a, b []PermissionRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]struct{}, len(a))
	for _, ref := range a {
		seen[ref.ID] = struct{}{}
	}
	for _, ref := range b {
		if _, ok := seen[ref.ID]; !ok {
			return false
		}
	}
	return true
}
