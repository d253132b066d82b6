package auth

import "context"

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the AuthUser in the given context
func WithContext(ctx context.Context, user AuthUser) context.Context {
	return context.WithValue(ctx, userCtxKey, user)
}

// FromContext finds the user from the context. Claims stored with
// WithClaimsContext are used when no user was set.
func FromContext(ctx context.Context) (AuthUser, bool) {
	if user, ok := ctx.Value(userCtxKey).(AuthUser); ok {
		return user, true
	}
	if claims, ok := GetClaims(ctx); ok {
		return claims.User(), true
	}
	return AuthUser{}, false
}

// WithClaimsContext sets the verified claims in the given context
func WithClaimsContext(ctx context.Context, claims ClaimsToken) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// GetClaims extracts the verified claims from the context
func GetClaims(ctx context.Context) (ClaimsToken, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(ClaimsToken)
	return raw, ok
}

// Can reports whether the user carried by ctx holds permission.
func Can(ctx context.Context, permission Permission) bool {
	user, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return CheckPermission(user.Role, permission)
}
