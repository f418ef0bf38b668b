package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/isdelr/gatekeeper-be/internal/models"
	"github.com/rs/zerolog/log"
)

// TokenCookie is the cookie name the guard falls back to when no
// Authorization header is present.
const TokenCookie = "auth_token"

// PrincipalResolver resolves a raw token to its user.
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*models.User, *Claims, error)
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the auth_token cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware creates a guard protecting routes. Requests whose token does not
// resolve to a user are rejected with 401.
func Middleware(resolver PrincipalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := TokenFromRequest(r)
			if tokenStr == "" {
				unauthenticated(w)
				return
			}

			user, claims, err := resolver.Resolve(r.Context(), tokenStr)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected auth token")
				unauthenticated(w)
				return
			}

			ctx := WithPrincipal(r.Context(), user, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": "Unauthenticated."})
}
