// Package auth authenticates operators against stored credentials and
// maintains their Redis backed sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/sigedo/sigedo/internal/audit"
	"github.com/sigedo/sigedo/internal/shared"
)

const auditModule = "AUTH"

// ActionLogin tags successful authentication audit entries.
const ActionLogin = audit.ActionLogin

// Credential is the stored identity record used to verify a login.
type Credential struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	RoleIDs      []int64
	RoleNames    []string
}

// CredentialStore looks up login credentials.
type CredentialStore interface {
	// FindActiveByUsername returns the credential of an active, non-deleted
	// user, with its active role memberships.
	FindActiveByUsername(ctx context.Context, username string) (Credential, error)
}

// Profile is the authenticated identity returned to the client.
type Profile struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
}

// Service drives authentication.
type Service struct {
	store    CredentialStore
	sessions *shared.SessionManager
	recorder *audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store CredentialStore, sessions *shared.SessionManager, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sessions: sessions, recorder: recorder, logger: logger}
}

// Login verifies the credentials, issues a session token and records a LOGIN
// audit entry. Unknown users and wrong passwords are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, username, password string, info audit.RequestInfo) (string, Profile, error) {
	cred, err := s.store.FindActiveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", Profile{}, shared.ErrInvalidCredentials
		}
		return "", Profile{}, fmt.Errorf("auth: lookup credential: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return "", Profile{}, shared.ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, shared.Session{
		UserID:   cred.ID,
		Username: cred.Username,
		RoleIDs:  cred.RoleIDs,
	})
	if err != nil {
		return "", Profile{}, fmt.Errorf("auth: issue session: %w", err)
	}

	info.ActorID = &cred.ID
	s.recorder.Record(info, audit.Event{
		Action:   ActionLogin,
		Module:   auditModule,
		EntityID: strconv.FormatInt(cred.ID, 10),
		Details: map[string]any{
			audit.DetailDisplayName: cred.Username,
		},
	})

	return token, Profile{
		ID:        cred.ID,
		Username:  cred.Username,
		FirstName: cred.FirstName,
		LastName:  cred.LastName,
		Email:     cred.Email,
		Roles:     cred.RoleNames,
	}, nil
}

// Logout revokes the session token. A missing or already-expired token is
// not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}
