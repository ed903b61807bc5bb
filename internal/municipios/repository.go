package municipios

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/shared"
)

// ErrNumTaken indicates a duplicate official territory number.
var ErrNumTaken = errors.New("municipios: official number already registered")

const uniqueViolation = "23505"

// PGRepository provides PostgreSQL backed territory persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// List returns the active catalog ordered by official number.
func (r *PGRepository) List(ctx context.Context) ([]Municipio, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, num, nombre, active
		FROM municipios
		WHERE active AND deleted_at IS NULL
		ORDER BY num`)
	if err != nil {
		return nil, fmt.Errorf("municipios: list: %w", err)
	}
	defer rows.Close()

	result := []Municipio{}
	for rows.Next() {
		var m Municipio
		if err := rows.Scan(&m.ID, &m.Num, &m.Nombre, &m.Active); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// GetByID returns one active territory.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (Municipio, error) {
	var m Municipio
	err := r.pool.QueryRow(ctx, `
		SELECT id, num, nombre, active
		FROM municipios
		WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&m.ID, &m.Num, &m.Nombre, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Municipio{}, shared.ErrNotFound
	}
	if err != nil {
		return Municipio{}, fmt.Errorf("municipios: get %d: %w", id, err)
	}
	return m, nil
}

// Create registers a territory.
func (r *PGRepository) Create(ctx context.Context, num, nombre string) (Municipio, error) {
	var m Municipio
	err := r.pool.QueryRow(ctx, `
		INSERT INTO municipios (num, nombre, active) VALUES ($1, $2, TRUE)
		RETURNING id, num, nombre, active`, num, nombre).Scan(&m.ID, &m.Num, &m.Nombre, &m.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Municipio{}, ErrNumTaken
		}
		return Municipio{}, fmt.Errorf("municipios: create: %w", err)
	}
	return m, nil
}

// Update mutates a territory; nil pointers leave fields untouched.
func (r *PGRepository) Update(ctx context.Context, id int64, num, nombre *string) (Municipio, error) {
	var m Municipio
	err := r.pool.QueryRow(ctx, `
		UPDATE municipios
		SET num = COALESCE($2, num), nombre = COALESCE($3, nombre)
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, num, nombre, active`, id, num, nombre).Scan(&m.ID, &m.Num, &m.Nombre, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Municipio{}, shared.ErrNotFound
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Municipio{}, ErrNumTaken
		}
		return Municipio{}, fmt.Errorf("municipios: update %d: %w", id, err)
	}
	return m, nil
}

// SoftDelete retires a territory. Grants referencing it stop resolving
// because the resolver joins on active territories.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE municipios
		SET active = FALSE, deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("municipios: soft delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
