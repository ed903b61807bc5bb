package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/shared"
)

// PGRepository provides PostgreSQL backed credential lookups.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindActiveByUsername returns the credential of an active user together
// with its active role memberships. Deactivated and soft-deleted accounts
// are not found.
func (r *PGRepository) FindActiveByUsername(ctx context.Context, username string) (Credential, error) {
	var cred Credential
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, email, first_name, last_name, password_hash
		FROM users
		WHERE username = $1 AND active AND deleted_at IS NULL`, username).Scan(
		&cred.ID, &cred.Username, &cred.Email, &cred.FirstName, &cred.LastName, &cred.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, shared.ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("auth: find credential: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id AND ro.active
		WHERE ur.user_id = $1
		ORDER BY ro.id`, cred.ID)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: load roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return Credential{}, err
		}
		cred.RoleIDs = append(cred.RoleIDs, id)
		cred.RoleNames = append(cred.RoleNames, name)
	}
	return cred, rows.Err()
}
