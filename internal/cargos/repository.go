package cargos

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns active cargos ordered by id.
func (r *Repository) List(ctx context.Context) ([]Cargo, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, nombre, active FROM cargos WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Cargo
	for rows.Next() {
		var c Cargo
		if err := rows.Scan(&c.ID, &c.Nombre, &c.Active); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Label resolves a cargo id into its human-readable name. The second return
// is false when the row no longer exists; callers substitute a fallback.
func (r *Repository) Label(ctx context.Context, id int64) (string, bool, error) {
	var nombre string
	err := r.pool.QueryRow(ctx, `SELECT nombre FROM cargos WHERE id = $1`, id).Scan(&nombre)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return nombre, true, nil
}
