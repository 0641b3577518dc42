package middleware

import (
	"context"

	"github.com/google/uuid"
)

type (
	userIDKey struct{}
	roleKey   struct{}
)

// WithUserID records the authenticated member id as carried in the token.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(orBackground(ctx), userIDKey{}, userID)
}

// WithRole records the caller's role claim.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(orBackground(ctx), roleKey{}, role)
}

func UserIDFromContext(ctx context.Context) string { return stringValue(ctx, userIDKey{}) }

func RoleFromContext(ctx context.Context) string { return stringValue(ctx, roleKey{}) }

// ActorFromContext parses the authenticated member id. ok is false when the
// request carries no usable identity.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
