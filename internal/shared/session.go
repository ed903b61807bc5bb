package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is the authenticated state resolved once per request. Role ids are
// captured at login time; territorial permissions are looked up live.
type Session struct {
	Token    string  `json:"-"`
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	RoleIDs  []int64 `json:"role_ids"`
}

// SessionManager stores sessions in Redis keyed by opaque bearer tokens.
type SessionManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, ttl: ttl}
}

// Create persists a new session and returns its bearer token.
func (sm *SessionManager) Create(ctx context.Context, sess Session) (string, error) {
	token := uuid.NewString()
	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("shared: marshal session: %w", err)
	}
	if err := sm.client.Set(ctx, sm.redisKey(token), payload, sm.ttl).Err(); err != nil {
		return "", fmt.Errorf("shared: store session: %w", err)
	}
	return token, nil
}

// Get resolves a bearer token into a session, refreshing its TTL.
func (sm *SessionManager) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionExpired
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("shared: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("shared: decode session: %w", err)
	}
	sess.Token = token
	_ = sm.client.Expire(ctx, sm.redisKey(token), sm.ttl).Err()
	return &sess, nil
}

// Delete revokes a session token.
func (sm *SessionManager) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return sm.client.Del(ctx, sm.redisKey(token)).Err()
}

func (sm *SessionManager) redisKey(token string) string {
	return "session:" + token
}
