package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed matrix lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GrantExists reports whether an active grant exists for the triple. The
// referenced permission and municipio must themselves be active; existence
// alone is authoritative, there is no precedence ordering between rows.
func (r *Repository) GrantExists(ctx context.Context, userID, municipioID int64, permission string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM user_municipality_permissions ump
			JOIN permissions p ON p.id = ump.permission_id AND p.active
			JOIN municipios m ON m.id = ump.municipio_id AND m.active
			WHERE ump.user_id = $1
			  AND ump.municipio_id = $2
			  AND p.name = $3
			  AND ump.active
			  AND ump.deleted_at IS NULL
		)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, municipioID, permission).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MatrixRow is one joined row of the active matrix for a user.
type MatrixRow struct {
	MunicipioID int64
	Num         string
	Nombre      string
	Permission  string
}

// ActiveGrantsForUser returns the user's active matrix joined with municipio
// and permission reference data.
func (r *Repository) ActiveGrantsForUser(ctx context.Context, userID int64) ([]MatrixRow, error) {
	const query = `
		SELECT m.id, m.num, m.nombre, p.name
		FROM user_municipality_permissions ump
		JOIN municipios m ON m.id = ump.municipio_id AND m.active
		JOIN permissions p ON p.id = ump.permission_id AND p.active
		WHERE ump.user_id = $1 AND ump.active AND ump.deleted_at IS NULL
		ORDER BY m.id, p.id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []MatrixRow
	for rows.Next() {
		var row MatrixRow
		if err := rows.Scan(&row.MunicipioID, &row.Num, &row.Nombre, &row.Permission); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ActiveMunicipios returns the active territory catalog.
func (r *Repository) ActiveMunicipios(ctx context.Context) ([]MatrixRow, error) {
	const query = `SELECT id, num, nombre FROM municipios WHERE active AND deleted_at IS NULL ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []MatrixRow
	for rows.Next() {
		var row MatrixRow
		if err := rows.Scan(&row.MunicipioID, &row.Num, &row.Nombre); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// ActivePermissionNames returns the names of all active permissions.
func (r *Repository) ActivePermissionNames(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM permissions WHERE active ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
