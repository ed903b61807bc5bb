package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/platform/db"
	"github.com/sigedo/sigedo/internal/shared"
)

// PGRepository provides PostgreSQL backed matrix administration.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GrantsForUser returns the user's active physical matrix rows with the
// reference names joined in.
func (r *PGRepository) GrantsForUser(ctx context.Context, userID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ump.municipio_id, m.nombre, ump.permission_id, p.name, ump.is_exception
		FROM user_municipality_permissions ump
		JOIN municipios m ON m.id = ump.municipio_id
		JOIN permissions p ON p.id = ump.permission_id
		WHERE ump.user_id = $1 AND ump.active AND ump.deleted_at IS NULL
		ORDER BY ump.municipio_id, ump.permission_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("access: grants for user %d: %w", userID, err)
	}
	defer rows.Close()

	grants := []Grant{}
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.MunicipioID, &g.Municipio, &g.PermissionID, &g.Permission, &g.IsException); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// TargetIdentity returns the display name of the user whose matrix is being
// edited, preferring the full name over the username.
func (r *PGRepository) TargetIdentity(ctx context.Context, userID int64) (string, error) {
	var firstName, lastName, username string
	err := r.pool.QueryRow(ctx, `
		SELECT first_name, last_name, username
		FROM users
		WHERE id = $1 AND deleted_at IS NULL`, userID).Scan(&firstName, &lastName, &username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("access: target identity %d: %w", userID, err)
	}
	full := firstName + " " + lastName
	if full == " " {
		return username, nil
	}
	return full, nil
}

// IsAdministrator reports whether the user holds the administrator role.
func (r *PGRepository) IsAdministrator(ctx context.Context, userID int64) (bool, error) {
	var isAdmin bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2
		)`, userID, shared.AdministratorRoleID).Scan(&isAdmin)
	if err != nil {
		return false, fmt.Errorf("access: administrator check %d: %w", userID, err)
	}
	return isAdmin, nil
}

// Permissions returns the full permission catalog, inactive rows included,
// so that revocation descriptions can still be resolved.
func (r *PGRepository) Permissions(ctx context.Context) ([]Ref, error) {
	return r.refs(ctx, `SELECT id, name FROM permissions ORDER BY id`)
}

// Municipios returns the full territory catalog.
func (r *PGRepository) Municipios(ctx context.Context) ([]Ref, error) {
	return r.refs(ctx, `SELECT id, nombre FROM municipios ORDER BY id`)
}

// ActivePermissions returns only the active permission catalog.
func (r *PGRepository) ActivePermissions(ctx context.Context) ([]Ref, error) {
	return r.refs(ctx, `SELECT id, name FROM permissions WHERE active ORDER BY id`)
}

// ActiveMunicipios returns only the active territory catalog.
func (r *PGRepository) ActiveMunicipios(ctx context.Context) ([]Ref, error) {
	return r.refs(ctx, `SELECT id, nombre FROM municipios WHERE active AND deleted_at IS NULL ORDER BY id`)
}

func (r *PGRepository) refs(ctx context.Context, query string) ([]Ref, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("access: load refs: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ApplyBatch applies grant and revocation toggles in one transaction.
// Grants are marked is_exception because the matrix editor deviates from the
// role template; revocations are soft-deleted so the trail of past grants
// survives.
func (r *PGRepository) ApplyBatch(ctx context.Context, userID int64, grants, revokes []Change) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, change := range revokes {
			if _, err := tx.Exec(ctx, `
				UPDATE user_municipality_permissions
				SET active = FALSE, deleted_at = NOW()
				WHERE user_id = $1 AND municipio_id = $2 AND permission_id = $3 AND active`,
				userID, change.MunicipioID, change.PermissionID); err != nil {
				return fmt.Errorf("access: revoke grant: %w", err)
			}
		}
		for _, change := range grants {
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_municipality_permissions
					(user_id, municipio_id, permission_id, is_exception, active)
				VALUES ($1, $2, $3, TRUE, TRUE)
				ON CONFLICT (user_id, municipio_id, permission_id)
				DO UPDATE SET active = TRUE, is_exception = TRUE, deleted_at = NULL`,
				userID, change.MunicipioID, change.PermissionID); err != nil {
				return fmt.Errorf("access: apply grant: %w", err)
			}
		}
		return nil
	})
}
