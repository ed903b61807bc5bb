package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/platform/db"
	"github.com/sigedo/sigedo/internal/shared"
)

// PGRepository provides PostgreSQL backed user persistence. Mutations that
// touch roles or the territorial matrix run inside a single transaction.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const uniqueViolation = "23505"

const userColumns = `u.id, u.username, u.email, u.first_name, u.last_name,
	COALESCE(u.second_last_name, ''), u.cargo_id, u.active,
	u.created_by, u.updated_by, u.created_at, u.updated_at`

// List returns a filtered page of users with cargo and roles joined in,
// plus the total match count.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]ListRow, int, error) {
	where, args := buildUserWhere(filters)

	var total int
	countQuery := `SELECT COUNT(*) FROM users u` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	offset := (filters.Page - 1) * filters.Limit
	query := `
		SELECT ` + userColumns + `, COALESCE(c.nombre, '')
		FROM users u
		LEFT JOIN cargos c ON c.id = u.cargo_id` + where + fmt.Sprintf(`
		ORDER BY u.id
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filters.Limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []ListRow
	var ids []int64
	for rows.Next() {
		var row ListRow
		if err := rows.Scan(
			&row.ID, &row.Username, &row.Email, &row.FirstName, &row.LastName,
			&row.SecondLastName, &row.CargoID, &row.Active,
			&row.CreatedBy, &row.UpdatedBy, &row.CreatedAt, &row.UpdatedAt,
			&row.CargoNombre,
		); err != nil {
			return nil, 0, fmt.Errorf("users: scan list row: %w", err)
		}
		row.Roles = []RoleRef{}
		out = append(out, row)
		ids = append(ids, row.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(ids) > 0 {
		byUser, err := r.rolesForUsers(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range out {
			if refs, ok := byUser[out[i].ID]; ok {
				out[i].Roles = refs
			}
		}
	}
	return out, total, nil
}

func buildUserWhere(filters ListFilters) (string, []any) {
	clauses := []string{"u.deleted_at IS NULL"}
	var args []any

	if filters.Active != nil {
		args = append(args, *filters.Active)
		clauses = append(clauses, fmt.Sprintf("u.active = $%d", len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(u.username ILIKE $%d OR u.email ILIKE $%d OR u.first_name ILIKE $%d OR u.last_name ILIKE $%d)",
			n, n, n, n))
	}
	if filters.CargoID > 0 {
		args = append(args, filters.CargoID)
		clauses = append(clauses, fmt.Sprintf("u.cargo_id = $%d", len(args)))
	}
	if filters.RoleID > 0 {
		args = append(args, filters.RoleID)
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = u.id AND ur.role_id = $%d)", len(args)))
	}
	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func (r *PGRepository) rolesForUsers(ctx context.Context, userIDs []int64) (map[int64][]RoleRef, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ur.user_id, ro.id, ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.active
		WHERE ur.user_id = ANY($1)
		ORDER BY ur.user_id, ro.id`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("users: load roles: %w", err)
	}
	defer rows.Close()

	byUser := make(map[int64][]RoleRef)
	for rows.Next() {
		var userID int64
		var ref RoleRef
		if err := rows.Scan(&userID, &ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		byUser[userID] = append(byUser[userID], ref)
	}
	return byUser, rows.Err()
}

// GetByID returns one user with active roles. Soft-deleted users are not
// found.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (User, []RoleRef, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id = $1 AND u.deleted_at IS NULL`, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.SecondLastName, &user.CargoID, &user.Active,
		&user.CreatedBy, &user.UpdatedBy, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, nil, shared.ErrNotFound
	}
	if err != nil {
		return User{}, nil, fmt.Errorf("users: get %d: %w", id, err)
	}

	byUser, err := r.rolesForUsers(ctx, []int64{id})
	if err != nil {
		return User{}, nil, err
	}
	refs := byUser[id]
	if refs == nil {
		refs = []RoleRef{}
	}
	return user, refs, nil
}

// Create inserts the user and its role memberships in one transaction.
func (r *PGRepository) Create(ctx context.Context, rec CreateRecord) (User, error) {
	var user User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (username, email, password_hash, first_name, last_name,
				second_last_name, cargo_id, active, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, TRUE, $8, $8)
			RETURNING id, username, email, first_name, last_name,
				COALESCE(second_last_name, ''), cargo_id, active,
				created_by, updated_by, created_at, updated_at`,
			rec.Username, rec.Email, rec.PasswordHash, rec.FirstName, rec.LastName,
			rec.SecondLastName, rec.CargoID, rec.CreatedBy,
		).Scan(
			&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
			&user.SecondLastName, &user.CargoID, &user.Active,
			&user.CreatedBy, &user.UpdatedBy, &user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return translateUniqueViolation(err)
		}
		return replaceRoles(ctx, tx, user.ID, rec.RoleIDs)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Update applies the partial mutation, synchronises role membership and
// executes the matrix directives in one transaction.
func (r *PGRepository) Update(ctx context.Context, id int64, rec UpdateRecord) (User, error) {
	var user User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		sets, args := buildUserSet(rec)
		args = append(args, id)
		query := fmt.Sprintf(`
			UPDATE users
			SET %s
			WHERE id = $%d AND deleted_at IS NULL
			RETURNING id, username, email, first_name, last_name,
				COALESCE(second_last_name, ''), cargo_id, active,
				created_by, updated_by, created_at, updated_at`,
			strings.Join(sets, ", "), len(args))
		err := tx.QueryRow(ctx, query, args...).Scan(
			&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
			&user.SecondLastName, &user.CargoID, &user.Active,
			&user.CreatedBy, &user.UpdatedBy, &user.CreatedAt, &user.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return translateUniqueViolation(err)
		}

		if rec.RolesSet {
			if err := replaceRoles(ctx, tx, id, rec.RoleIDs); err != nil {
				return err
			}
		}

		switch {
		case rec.RevokeAllMatrix:
			if _, err := tx.Exec(ctx, `
				UPDATE user_municipality_permissions
				SET active = FALSE, deleted_at = NOW()
				WHERE user_id = $1 AND active`, id); err != nil {
				return fmt.Errorf("users: revoke matrix: %w", err)
			}
		case rec.PruneMatrix:
			// Grants outside the new role templates die with the role change;
			// exceptions inside the templates survive.
			if _, err := tx.Exec(ctx, `
				UPDATE user_municipality_permissions
				SET active = FALSE, deleted_at = NOW()
				WHERE user_id = $1 AND active
				  AND permission_id <> ALL($2)`, id, rec.AllowedPermissionIDs); err != nil {
				return fmt.Errorf("users: prune matrix: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SoftDelete deactivates the user and revokes role memberships and the
// territorial matrix in one transaction.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET active = FALSE, deleted_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return fmt.Errorf("users: soft delete %d: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("users: clear roles: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE user_municipality_permissions
			SET active = FALSE, deleted_at = NOW()
			WHERE user_id = $1 AND active`, id)
		if err != nil {
			return fmt.Errorf("users: revoke matrix: %w", err)
		}
		return nil
	})
}

// RoleRefs resolves role names for the given ids, skipping inactive roles.
func (r *PGRepository) RoleRefs(ctx context.Context, roleIDs []int64) ([]RoleRef, error) {
	if len(roleIDs) == 0 {
		return []RoleRef{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name FROM roles
		WHERE id = ANY($1) AND active
		ORDER BY id`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("users: resolve roles: %w", err)
	}
	defer rows.Close()

	refs := []RoleRef{}
	for rows.Next() {
		var ref RoleRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// TemplatePermissionIDs returns the union of the active base-template
// permissions for the given roles. Administrator-only actions never appear
// in the matrix, so they are filtered here as well.
func (r *PGRepository) TemplatePermissionIDs(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return []int64{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.id
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id AND p.active
		WHERE rp.role_id = ANY($1) AND p.name <> $2
		ORDER BY p.id`, roleIDs, shared.PermEliminar)
	if err != nil {
		return nil, fmt.Errorf("users: template permissions: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func buildUserSet(rec UpdateRecord) ([]string, []any) {
	sets := []string{"updated_at = NOW()"}
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if rec.Username != nil {
		add("username", *rec.Username)
	}
	if rec.Email != nil {
		add("email", *rec.Email)
	}
	if rec.PasswordHash != nil {
		add("password_hash", *rec.PasswordHash)
	}
	if rec.FirstName != nil {
		add("first_name", *rec.FirstName)
	}
	if rec.LastName != nil {
		add("last_name", *rec.LastName)
	}
	if rec.SecondLastName != nil {
		add("second_last_name", *rec.SecondLastName)
	}
	if rec.CargoIDSet {
		add("cargo_id", rec.CargoID)
	}
	add("updated_by", rec.UpdatedBy)
	return sets, args
}

func replaceRoles(ctx context.Context, tx pgx.Tx, userID int64, roleIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("users: clear roles: %w", err)
	}
	for _, roleID := range roleIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
			return fmt.Errorf("users: attach role %d: %w", roleID, err)
		}
	}
	return nil
}

func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	return err
}
