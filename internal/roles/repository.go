package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/platform/db"
	"github.com/sigedo/sigedo/internal/shared"
)

// ErrNameTaken indicates a duplicate role name.
var ErrNameTaken = errors.New("roles: role name already exists")

const uniqueViolation = "23505"

// PGRepository provides PostgreSQL backed role persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// List returns the active role catalog with each base permission template.
func (r *PGRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, ro.name, ro.active, p.id, p.name
		FROM roles ro
		LEFT JOIN role_permissions rp ON rp.role_id = ro.id
		LEFT JOIN permissions p ON p.id = rp.permission_id AND p.active
		WHERE ro.active
		ORDER BY ro.id, p.id`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var result []Role
	index := make(map[int64]int)
	for rows.Next() {
		var role Role
		var permID *int64
		var permName *string
		if err := rows.Scan(&role.ID, &role.Name, &role.Active, &permID, &permName); err != nil {
			return nil, err
		}
		i, ok := index[role.ID]
		if !ok {
			i = len(result)
			index[role.ID] = i
			role.BasePermissions = []PermissionRef{}
			result = append(result, role)
		}
		if permID != nil && permName != nil {
			result[i].BasePermissions = append(result[i].BasePermissions, PermissionRef{ID: *permID, Name: *permName})
		}
	}
	return result, rows.Err()
}

// Counts returns per-role active user occupancy, skipping empty roles.
func (r *PGRepository) Counts(ctx context.Context) ([]Count, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, ro.name, COUNT(ur.user_id)
		FROM roles ro
		JOIN user_roles ur ON ur.role_id = ro.id
		JOIN users u ON u.id = ur.user_id AND u.active AND u.deleted_at IS NULL
		WHERE ro.active
		GROUP BY ro.id, ro.name
		HAVING COUNT(ur.user_id) > 0
		ORDER BY ro.name`)
	if err != nil {
		return nil, fmt.Errorf("roles: counts: %w", err)
	}
	defer rows.Close()

	counts := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.RoleID, &c.RoleName, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetByID returns one active role with its template.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, active FROM roles
		WHERE id = $1 AND active`, id).Scan(&role.ID, &role.Name, &role.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get %d: %w", id, err)
	}
	role.BasePermissions, err = r.templateOf(ctx, id)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (r *PGRepository) templateOf(ctx context.Context, roleID int64) ([]PermissionRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("roles: template of %d: %w", roleID, err)
	}
	defer rows.Close()

	refs := []PermissionRef{}
	for rows.Next() {
		var ref PermissionRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Create inserts the role and attaches its template in one transaction.
func (r *PGRepository) Create(ctx context.Context, name string, permissionIDs []int64) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, active) VALUES ($1, TRUE)
			RETURNING id, name, active`, name).Scan(&role.ID, &role.Name, &role.Active)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrNameTaken
			}
			return fmt.Errorf("roles: create: %w", err)
		}
		for _, permID := range permissionIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
				role.ID, permID); err != nil {
				return fmt.Errorf("roles: attach permission %d: %w", permID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return r.GetByID(ctx, role.ID)
}

// SetName renames a role.
func (r *PGRepository) SetName(ctx context.Context, id int64, name string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name = $2 WHERE id = $1 AND active`, id, name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrNameTaken
		}
		return fmt.Errorf("roles: rename %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetTemplate replaces the role's base permission template by diffing the
// current attachment set: missing ids are attached, leftover ids detached.
func (r *PGRepository) SetTemplate(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		existing := make(map[int64]struct{})
		rows, err := tx.Query(ctx, `
			SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("roles: load template: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		keep := make(map[int64]struct{}, len(permissionIDs))
		for _, id := range permissionIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
				roleID, id); err != nil {
				return fmt.Errorf("roles: attach permission %d: %w", id, err)
			}
		}
		for id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `
				DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
				roleID, id); err != nil {
				return fmt.Errorf("roles: detach permission %d: %w", id, err)
			}
		}
		return nil
	})
}

// SoftDelete deactivates a role.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE roles SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return fmt.Errorf("roles: soft delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
