package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"fixflow/internal/auth"
	apierrors "fixflow/internal/errors"
)

type userContextKey struct{}

// SessionVerifier validates a session token and resolves its user
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*auth.User, error)
}

// SessionCookieName carries the issued session token
const SessionCookieName = "fix_session"

// RequireSession rejects requests lacking a valid session, accepting
// the token from the Authorization bearer header or the session
// cookie.
func RequireSession(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if cookie, err := r.Cookie(SessionCookieName); err == nil {
					token = cookie.Value
				}
			}
			if token == "" {
				render.Render(w, r, apierrors.ErrAuthenticationFailed)
				return
			}

			user, err := verifier.VerifySession(r.Context(), token)
			if err != nil {
				render.Render(w, r, apierrors.ErrAuthenticationFailed)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user placed by
// RequireSession, or nil.
func UserFromContext(ctx context.Context) *auth.User {
	user, _ := ctx.Value(userContextKey{}).(*auth.User)
	return user
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
