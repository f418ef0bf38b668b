package auth

import (
	"context"

	"github.com/isdelr/gatekeeper-be/internal/models"
)

type contextKey string

const (
	// UserClaimsKey is the context key for the verified token claims.
	UserClaimsKey = contextKey("userClaims")
	// PrincipalKey is the context key for the resolved user.
	PrincipalKey = contextKey("principal")
)

// WithPrincipal stores the resolved user and claims in ctx.
func WithPrincipal(ctx context.Context, user *models.User, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, user)
	return context.WithValue(ctx, UserClaimsKey, claims)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(PrincipalKey).(*models.User)
	return user, ok && user != nil
}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok && claims != nil
}
