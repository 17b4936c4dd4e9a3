package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pipetrade/rfq-auth/internal/http/response"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type contextKey string

const identityContextKey contextKey = "identity"

// AuthMiddleware requires a bearer access token whose backing session is
// still live, and attaches the verified identity to the request context.
// Each authenticated request pings the session's activity timestamp through
// the recorder; a nil recorder skips the ping.
func AuthMiddleware(verifier service.TokenVerifier, activity service.ActivityRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			identity, err := verifier.Verify(raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			if activity != nil {
				activity.Touch(r.Context(), identity.SessionID)
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on a role carried in the verified access token.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			for _, have := range identity.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", map[string]string{"required": role})
		})
	}
}

func IdentityFromContext(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*service.Identity)
	return id, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
