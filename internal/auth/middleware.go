package auth

import (
	"errors"
	"net/http"
	"strings"

	"log/slog"

	"github.com/sigedo/sigedo/internal/shared"
)

// SessionLoader resolves the Authorization bearer token into a session and
// stores it in the request context. Requests without a token pass through
// unauthenticated; route guards downstream decide whether that matters.
func SessionLoader(sessions *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := sessions.Get(r.Context(), token)
			if err != nil {
				if !errors.Is(err, shared.ErrSessionExpired) && logger != nil {
					logger.Error("resolve session", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
