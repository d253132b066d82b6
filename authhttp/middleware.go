package authhttp

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	auth "github.com/tradepulse/go-auth"
)

// ClaimsLocalsKey is where RequireToken stores the verified claims.
const ClaimsLocalsKey = "auth_claims"

// TokenVerifier validates a claims token. *auth.TokenCodec satisfies it.
type TokenVerifier interface {
	Verify(token string) (auth.ClaimsToken, error)
}

// TokenConfig configures RequireToken.
type TokenConfig struct {
	Verifier TokenVerifier
	// AuthScheme is the Authorization header scheme. Defaults to Bearer.
	AuthScheme string
	// QueryParam is checked when the header is missing. Empty disables it.
	QueryParam string
	ContextKey string
}

// RequireToken rejects requests without a valid claims token. The claims are
// stored in Locals and in the request context.
func RequireToken(cfg TokenConfig) router.MiddlewareFunc {
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = ClaimsLocalsKey
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token := tokenFromHeader(ctx.GetString(router.HeaderAuthorization, ""), cfg.AuthScheme)
			if token == "" && cfg.QueryParam != "" {
				token = ctx.Query(cfg.QueryParam)
			}
			if token == "" {
				return writeError(ctx, auth.ErrInvalidToken)
			}

			claims, err := cfg.Verifier.Verify(token)
			if err != nil {
				return writeError(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, claims)
			ctx.SetContext(auth.WithClaimsContext(ctx.Context(), claims))
			return next(ctx)
		}
	}
}

// RequirePermission must run after RequireToken. It answers 403 when the
// token's role does not grant permission.
func RequirePermission(permission auth.Permission) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if !auth.Can(ctx.Context(), permission) {
				return ctx.JSON(fiber.StatusForbidden, ErrorResponse{
					Code:    "FORBIDDEN",
					Message: "missing permission " + permission,
				})
			}
			return next(ctx)
		}
	}
}

// ClaimsFrom returns the claims stored by RequireToken.
func ClaimsFrom(ctx router.Context) (auth.ClaimsToken, bool) {
	claims, ok := ctx.Locals(ClaimsLocalsKey).(auth.ClaimsToken)
	return claims, ok
}

func tokenFromHeader(header, scheme string) string {
	l := len(scheme)
	if len(header) > l+1 && strings.EqualFold(header[:l], scheme) && header[l] == ' ' {
		return strings.TrimSpace(header[l+1:])
	}
	return ""
}
