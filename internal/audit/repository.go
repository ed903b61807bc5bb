package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sigedo/sigedo/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the audit trail.
// Entries are append-only; the repository intentionally exposes no update or
// delete operation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one audit entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (user_id, action, module, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.UserID, entry.Action, entry.Module, entry.EntityID,
		nullable(entry.IPAddress), nullable(entry.UserAgent), details, createdAt)
	return err
}

// ListFilters narrows the audit listing.
type ListFilters struct {
	Module  string
	Action  string
	Search  string
	From    time.Time
	To      time.Time
	RoleID  int64
	Limit   int
	Offset  int
	SortAsc bool
}

// ListRow is one row of the paginated listing, with the actor's identity
// joined in when the entry is attributed.
type ListRow struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Action    string    `json:"action"`
	Module    string    `json:"module"`
	EntityID  *string   `json:"entity_id"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
}

// List returns matching entries plus the total match count.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]ListRow, int, error) {
	where, args := buildListWhere(filters)

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM audit_logs al
		LEFT JOIN users u ON u.id = al.user_id` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "DESC"
	if filters.SortAsc {
		order = "ASC"
	}
	listQuery := fmt.Sprintf(`
		SELECT al.id, al.user_id, al.action, al.module, al.entity_id, al.ip_address, al.created_at,
		       u.username, u.first_name, u.last_name
		FROM audit_logs al
		LEFT JOIN users u ON u.id = al.user_id%s
		ORDER BY al.created_at %s
		LIMIT $%d OFFSET $%d`, where, order, len(args)+1, len(args)+2)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []ListRow
	for rows.Next() {
		var row ListRow
		var ip, username, firstName, lastName pgtype.Text
		if err := rows.Scan(&row.ID, &row.UserID, &row.Action, &row.Module, &row.EntityID, &ip, &row.CreatedAt,
			&username, &firstName, &lastName); err != nil {
			return nil, 0, err
		}
		row.IPAddress = ip.String
		row.Username = username.String
		row.FirstName = firstName.String
		row.LastName = lastName.String
		result = append(result, row)
	}
	return result, total, rows.Err()
}

// Detail is a full entry with the resolved actor identity.
type Detail struct {
	Entry
	User *ActorIdentity `json:"user"`
}

// GetByID returns the full entry, its details document and the actor's
// identity with role names.
func (r *Repository) GetByID(ctx context.Context, id int64) (Detail, error) {
	const query = `
		SELECT al.id, al.user_id, al.action, al.module, al.entity_id, al.ip_address, al.user_agent, al.details, al.created_at,
		       u.username, u.first_name, u.last_name, u.email,
		       COALESCE((
		           SELECT array_agg(ro.name ORDER BY ro.id)
		           FROM user_roles ur
		           JOIN roles ro ON ro.id = ur.role_id
		           WHERE ur.user_id = u.id
		       ), '{}')
		FROM audit_logs al
		LEFT JOIN users u ON u.id = al.user_id
		WHERE al.id = $1`

	var detail Detail
	var ip, ua pgtype.Text
	var details []byte
	var username, firstName, lastName, email pgtype.Text
	var roles []string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&detail.ID, &detail.UserID, &detail.Action, &detail.Module, &detail.EntityID,
		&ip, &ua, &details, &detail.CreatedAt,
		&username, &firstName, &lastName, &email, &roles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, shared.ErrNotFound
		}
		return Detail{}, err
	}
	detail.IPAddress = ip.String
	detail.UserAgent = ua.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &detail.Details); err != nil {
			return Detail{}, fmt.Errorf("audit: decode details: %w", err)
		}
	}
	if detail.UserID != nil && username.Valid {
		detail.User = &ActorIdentity{
			ID:        *detail.UserID,
			Username:  username.String,
			FirstName: firstName.String,
			LastName:  lastName.String,
			Email:     email.String,
			Roles:     roles,
		}
	}
	return detail, nil
}

func buildListWhere(filters ListFilters) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filters.Module != "" && filters.Module != "ALL" {
		add("al.module = $%d", filters.Module)
	}
	if filters.Action != "" {
		add("al.action = $%d", filters.Action)
	}
	if !filters.From.IsZero() {
		add("al.created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("al.created_at <= $%d", filters.To)
	}
	if filters.Search != "" {
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern)
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(al.action ILIKE $%d OR al.entity_id ILIKE $%d OR u.username ILIKE $%d)", n, n, n))
	}
	if filters.RoleID > 0 {
		add("EXISTS (SELECT 1 FROM user_roles ur WHERE ur.user_id = al.user_id AND ur.role_id = $%d)", filters.RoleID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
