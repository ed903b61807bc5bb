package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/authz"
	"github.com/sigedo/sigedo/internal/shared"
)

// auditModule is the statically declared tag every audit entry from this
// package carries.
const auditModule = "USERS"

// bcryptCost matches the original platform's hashing work factor.
const bcryptCost = 12

// ErrUsernameTaken indicates a duplicate username or email.
var ErrUsernameTaken = errors.New("users: username or email already registered")

// ListFilters narrows the user listing.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	Active  *bool
	CargoID int64
	RoleID  int64
}

// CreateRecord is the persisted shape of a new user.
type CreateRecord struct {
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	SecondLastName string
	CargoID        *int64
	RoleIDs        []int64
	CreatedBy      int64
}

// UpdateRecord carries the mutation a repository applies in one transaction.
// Matrix directives are pre-computed by the service.
type UpdateRecord struct {
	Username             *string
	Email                *string
	PasswordHash         *string
	FirstName            *string
	LastName             *string
	SecondLastName       *string
	CargoID              *int64
	CargoIDSet           bool
	RolesSet             bool
	RoleIDs              []int64
	RevokeAllMatrix      bool
	PruneMatrix          bool
	AllowedPermissionIDs []int64
	UpdatedBy            int64
}

// Repository is the persistence contract for user management.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]ListRow, int, error)
	GetByID(ctx context.Context, id int64) (User, []RoleRef, error)
	Create(ctx context.Context, rec CreateRecord) (User, error)
	Update(ctx context.Context, id int64, rec UpdateRecord) (User, error)
	SoftDelete(ctx context.Context, id int64) error
	RoleRefs(ctx context.Context, roleIDs []int64) ([]RoleRef, error)
	// TemplatePermissionIDs returns the union of the active base-template
	// permissions of the given roles, excluding administrator-only actions.
	TemplatePermissionIDs(ctx context.Context, roleIDs []int64) ([]int64, error)
}

// Service orchestrates user management and its audit trail. Audit recording
// happens after the transaction commits and can never fail the operation.
type Service struct {
	repo     Repository
	access   *authz.Service
	differ   *audit.Differ
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, access *authz.Service, differ *audit.Differ, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, access: access, differ: differ, recorder: recorder, logger: logger}
}

// List returns a filtered page of users.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]ListRow, shared.Pagination, error) {
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	rows, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filters.Page, filters.Limit, total), nil
}

// Get returns the user with roles and territorial access. Administrators
// receive the full virtual matrix.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	user, roleRefs, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{User: user, Roles: roleRefs}
	if s.access != nil {
		actor := authz.Actor{ID: user.ID, RoleIDs: roleIDsOf(roleRefs)}
		territories, err := s.access.AccessTerritories(ctx, actor)
		if err != nil {
			return Detail{}, err
		}
		detail.MunicipalityAccess = territories
	}
	return detail, nil
}

// CreateInput is the validated payload for a new user.
type CreateInput struct {
	Username       string
	Email          string
	Password       string
	FirstName      string
	LastName       string
	SecondLastName string
	CargoID        *int64
	RoleIDs        []int64
}

// Create registers a user inside a transaction and records a CREATE audit
// entry once the commit succeeded.
func (s *Service) Create(ctx context.Context, input CreateInput, adminID int64, info audit.RequestInfo) (Detail, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return Detail{}, fmt.Errorf("users: hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, CreateRecord{
		Username:       input.Username,
		Email:          input.Email,
		PasswordHash:   string(hash),
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		SecondLastName: input.SecondLastName,
		CargoID:        input.CargoID,
		RoleIDs:        input.RoleIDs,
		CreatedBy:      adminID,
	})
	if err != nil {
		return Detail{}, err
	}

	s.auditCreate(ctx, user, input.RoleIDs, info)
	return s.Get(ctx, user.ID)
}

// UpdateInput is the validated payload for a user mutation. Nil pointers
// leave the field untouched.
type UpdateInput struct {
	Username       *string
	Email          *string
	Password       *string
	FirstName      *string
	LastName       *string
	SecondLastName *string
	CargoID        *int64
	CargoIDSet     bool
	RoleIDs        []int64
	RolesSet       bool
}

// Update mutates a user, synchronises role membership and prunes the
// territorial matrix when the role set shrank. The audit entry is computed
// from the pre/post snapshots after the commit.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput, adminID int64, info audit.RequestInfo) (Detail, error) {
	prevUser, prevRoles, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Detail{}, err
	}

	rec := UpdateRecord{
		Username:       input.Username,
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		SecondLastName: input.SecondLastName,
		CargoID:        input.CargoID,
		CargoIDSet:     input.CargoIDSet,
		UpdatedBy:      adminID,
	}
	if input.Password != nil && *input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcryptCost)
		if err != nil {
			return Detail{}, fmt.Errorf("users: hash password: %w", err)
		}
		hashed := string(hash)
		rec.PasswordHash = &hashed
	}

	prevRoleIDs := roleIDsOf(prevRoles)
	rolesChanged := input.RolesSet && !sameIDSet(prevRoleIDs, input.RoleIDs)
	requiresPermissionCheck := false
	overrides := map[string]any{}

	if rolesChanged {
		rec.RolesSet = true
		rec.RoleIDs = input.RoleIDs

		wasAdmin := containsID(prevRoleIDs, shared.AdministratorRoleID)
		isNowAdmin := containsID(input.RoleIDs, shared.AdministratorRoleID)
		requiresPermissionCheck = wasAdmin && !isNowAdmin

		if isNowAdmin {
			// Administrators hold the virtual matrix; physical rows are
			// revoked to avoid stale grants on a later demotion.
			rec.RevokeAllMatrix = true
		} else {
			allowed, err := s.repo.TemplatePermissionIDs(ctx, input.RoleIDs)
			if err != nil {
				return Detail{}, err
			}
			rec.PruneMatrix = true
			rec.AllowedPermissionIDs = allowed
		}

		newRoles, err := s.repo.RoleRefs(ctx, input.RoleIDs)
		if err != nil {
			return Detail{}, err
		}
		overrides["roles"] = audit.FieldChange{Old: roleNamesOf(prevRoles), New: roleNamesOf(newRoles)}
	}

	currUser, err := s.repo.Update(ctx, id, rec)
	if err != nil {
		return Detail{}, err
	}

	// The stored hash never enters a snapshot; flagging the field is enough
	// for the differ to emit its redaction marker.
	var extraChanged []string
	if rec.PasswordHash != nil {
		extraChanged = append(extraChanged, "password")
	}
	s.auditUpdate(ctx, prevUser, currUser, extraChanged, overrides, info)

	detail, err := s.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	detail.RequiresPermissionCheck = requiresPermissionCheck
	return detail, nil
}

// SoftDelete deactivates a user and revokes roles and the territorial matrix
// in one transaction, then records a DELETE audit entry. Deactivation is an
// explicit operation, never inferred from which fields changed.
func (s *Service) SoftDelete(ctx context.Context, id int64, info audit.RequestInfo) error {
	user, _, err := s.repo.GetByID(ctx, id)
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
			audit.DetailDisplayName: user.Username,
		},
	})
	return nil
}

func (s *Service) auditCreate(ctx context.Context, user User, roleIDs []int64, info audit.RequestInfo) {
	overrides := map[string]any{}
	if len(roleIDs) > 0 {
		if refs, err := s.repo.RoleRefs(ctx, roleIDs); err == nil {
			overrides["roles"] = roleNamesOf(refs)
		} else {
			s.logger.Error("resolve role names for audit", slog.Any("error", err))
		}
	}
	details, err := s.differ.ForCreate(ctx, snapshotOf(user), audit.DiffOptions{Overrides: overrides})
	if err != nil {
		s.logger.Error("compute create audit details", slog.Any("error", err))
		return
	}
	s.recorder.Record(info, audit.Event{
		Action:   audit.ActionCreate,
		Module:   auditModule,
		EntityID: strconv.FormatInt(user.ID, 10),
		Details:  details,
	})
}

func (s *Service) auditUpdate(ctx context.Context, prev, curr User, extraChanged []string, overrides map[string]any, info audit.RequestInfo) {
	prevSnap := snapshotOf(prev)
	currSnap := snapshotOf(curr)
	changed := append(changedFields(prevSnap, currSnap), extraChanged...)
	details, err := s.differ.ForUpdate(ctx, prevSnap, currSnap, changed, audit.DiffOptions{
		Overrides: overrides,
		Force:     len(overrides) > 0,
	})
	if err != nil {
		s.logger.Error("compute update audit details", slog.Any("error", err))
		return
	}
	if details == nil {
		// Nothing auditable changed.
		return
	}
	s.recorder.Record(info, audit.Event{
		Action:   audit.ActionUpdate,
		Module:   auditModule,
		EntityID: strconv.FormatInt(curr.ID, 10),
		Details:  details,
	})
}

// snapshotOf flattens a user into the field map the differ consumes. The
// password hash stays out on purpose; see auditUpdate.
func snapshotOf(user User) audit.Snapshot {
	snap := audit.Snapshot{
		"username":         user.Username,
		"email":            user.Email,
		"first_name":       user.FirstName,
		"last_name":        user.LastName,
		"second_last_name": user.SecondLastName,
		"cargo_id":         user.CargoID,
		"active":           user.Active,
		"updated_at":       user.UpdatedAt,
	}
	return snap
}

func changedFields(prev, curr audit.Snapshot) []string {
	var changed []string
	for field, prevValue := range prev {
		currValue, ok := curr[field]
		if !ok {
			continue
		}
		if !equalSnapshotValue(prevValue, currValue) {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

func equalSnapshotValue(a, b any) bool {
	ap, aIsPtr := a.(*int64)
	bp, bIsPtr := b.(*int64)
	if aIsPtr && bIsPtr {
		if ap == nil || bp == nil {
			return ap == bp
		}
		return *ap == *bp
	}
	return a == b
}

func roleIDsOf(refs []RoleRef) []int64 {
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}

func roleNamesOf(refs []RoleRef) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func sameIDSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}
