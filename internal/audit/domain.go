// Package audit records an immutable, field-level trail of every data
// mutation. Entries are append-only: nothing in this package can update or
// delete a persisted row, and recording is best-effort so the operation being
// audited can never fail because of its trail.
package audit

import "time"

// Canonical action tokens. Callers may also pass free-form tokens (e.g.
// "UPDATE_PERMS"); the recorder normalises them to upper case.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionLogin  = "LOGIN"
)

// Structural keys inside the details document. details is otherwise
// schema-free and unindexed.
const (
	DetailChanges     = "changes"
	DetailData        = "data"
	DetailDisplayName = "display_name"
	DetailDevice      = "device_detected"
)

// RedactedValue replaces sensitive values before persistence. The marker is
// fixed and non-reversible; real old/new values never reach the trail.
const RedactedValue = "[PROTEGIDO]"

// Entry is one persisted audit record.
type Entry struct {
	ID        int64          `json:"id"`
	UserID    *int64         `json:"user_id"`
	Action    string         `json:"action"`
	Module    string         `json:"module"`
	EntityID  *string        `json:"entity_id"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActorIdentity is the resolved identity attached to an entry on detail
// lookups.
type ActorIdentity struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
}

// FieldChange is the old/new pair emitted for a plain field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}
