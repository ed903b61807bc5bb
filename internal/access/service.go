package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/shared"
)

// Matrix edits are audited against the user record they belong to.
const auditModule = "USERS"

// ActionUpdatePerms tags the enriched batch-update audit entry.
const ActionUpdatePerms = "UPDATE_PERMS"

// ErrNotGrantable marks a batch change that tries to grant a permission the
// matrix cannot carry.
var ErrNotGrantable = errors.New("access: permiso no asignable por municipio")

// Repository is the persistence contract for matrix administration.
type Repository interface {
	GrantsForUser(ctx context.Context, userID int64) ([]Grant, error)
	TargetIdentity(ctx context.Context, userID int64) (string, error)
	IsAdministrator(ctx context.Context, userID int64) (bool, error)
	Permissions(ctx context.Context) ([]Ref, error)
	Municipios(ctx context.Context) ([]Ref, error)
	ActivePermissions(ctx context.Context) ([]Ref, error)
	ActiveMunicipios(ctx context.Context) ([]Ref, error)
	ApplyBatch(ctx context.Context, userID int64, grants, revokes []Change) error
}

// Service drives matrix administration.
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

// Grants returns the user's matrix. For administrators the physical table
// holds nothing; the full cartesian product of active municipios and active
// permissions is generated instead.
func (s *Service) Grants(ctx context.Context, userID int64) ([]Grant, error) {
	isAdmin, err := s.repo.IsAdministrator(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return s.repo.GrantsForUser(ctx, userID)
	}

	var munis, perms []Ref
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		munis, err = s.repo.ActiveMunicipios(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = s.repo.ActivePermissions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	matrix := make([]Grant, 0, len(munis)*len(perms))
	for _, m := range munis {
		for _, p := range perms {
			matrix = append(matrix, Grant{
				MunicipioID:  m.ID,
				Municipio:    m.Name,
				PermissionID: p.ID,
				Permission:   p.Name,
			})
		}
	}
	return matrix, nil
}

// BatchUpdate applies a set of matrix toggles for one user in a single
// transaction and records one enriched audit entry describing every cell
// that changed.
func (s *Service) BatchUpdate(ctx context.Context, userID int64, changes []Change, info audit.RequestInfo) error {
	if len(changes) == 0 {
		return nil
	}

	target, err := s.repo.TargetIdentity(ctx, userID)
	if err != nil {
		return err
	}
	permNames, err := refNames(ctx, s.repo.Permissions)
	if err != nil {
		return err
	}
	muniNames, err := refNames(ctx, s.repo.Municipios)
	if err != nil {
		return err
	}

	grantable := make(map[string]struct{})
	for _, scope := range shared.MatrixScopes() {
		grantable[scope] = struct{}{}
	}

	var grants, revokes []Change
	var added, removed []string
	affected := make([]string, 0, len(changes))
	seen := make(map[string]struct{})

	for _, change := range changes {
		perm := permNames[change.PermissionID]
		if change.Value {
			if _, ok := grantable[perm]; !ok {
				return fmt.Errorf("%w: %s", ErrNotGrantable, perm)
			}
		}
		muni := muniNames[change.MunicipioID]
		desc := perm + " (" + muni + ")"
		if _, ok := seen[muni]; !ok {
			seen[muni] = struct{}{}
			affected = append(affected, muni)
		}
		if change.Value {
			grants = append(grants, change)
			added = append(added, desc)
		} else {
			revokes = append(revokes, change)
			removed = append(removed, desc)
		}
	}

	if err := s.repo.ApplyBatch(ctx, userID, grants, revokes); err != nil {
		return err
	}

	s.recorder.Record(info, audit.Event{
		Action:   ActionUpdatePerms,
		Module:   auditModule,
		EntityID: strconv.FormatInt(userID, 10),
		Details: map[string]any{
			"target_user":   target,
			"municipality":  strings.Join(affected, ", "),
			"type":          "BATCH_UPDATE",
			"total_changes": len(changes),
			audit.DetailChanges: map[string]any{
				"added":   added,
				"removed": removed,
			},
		},
	})
	return nil
}

func refNames(ctx context.Context, load func(context.Context) ([]Ref, error)) (map[int64]string, error) {
	refs, err := load(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(refs))
	for _, ref := range refs {
		names[ref.ID] = ref.Name
	}
	return names, nil
}
