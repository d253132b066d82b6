package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the validity of locally minted tokens.
const DefaultTokenTTL = 24 * time.Hour

// TokenCodec encodes and decodes the three-part HS256 claims token used by
// the local fallback path.
type TokenCodec struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenCodecOption customizes codec construction.
type TokenCodecOption func(*TokenCodec)

// WithTokenCodecClock injects a custom clock (useful for tests).
func WithTokenCodecClock(clock func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithTokenCodecLogger overrides the logger used for verification failures.
func WithTokenCodecLogger(logger Logger) TokenCodecOption {
	return func(c *TokenCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewTokenCodec creates a codec signing with key. A non positive ttl uses
// DefaultTokenTTL.
func NewTokenCodec(signingKey []byte, ttl time.Duration, opts ...TokenCodecOption) *TokenCodec {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	c := &TokenCodec{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
		logger:     defaultLogger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// TTL returns the validity of minted tokens.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Encode signs claims as header.payload.signature. The output is
// deterministic for a given key and claims.
func (c *TokenCodec) Encode(claims ClaimsToken) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", withSource(ErrInvalidToken, fmt.Errorf("sign claims: %w", err))
	}
	return signed, nil
}

// Mint issues a token for user valid from now for the codec TTL.
func (c *TokenCodec) Mint(user AuthUser) (string, error) {
	return c.Encode(ClaimsFromUser(user, c.now(), c.ttl))
}

// Decode parses the payload segment without checking the signature.
func (c *TokenCodec) Decode(token string) (ClaimsToken, error) {
	return DecodeClaims(token)
}

// DecodeClaims parses the payload segment of any three-part token without
// checking the signature.
func DecodeClaims(token string) (ClaimsToken, error) {
	claims := ClaimsToken{}
	if token == "" {
		return claims, ErrInvalidToken
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ClaimsToken{}, withSource(ErrInvalidToken, err)
	}
	return claims, nil
}

// IsExpired reports whether the token exp is before now. Tokens that fail to
// decode are expired.
func (c *TokenCodec) IsExpired(token string) bool {
	claims, err := c.Decode(token)
	if err != nil {
		return true
	}
	return claims.Exp < c.now().Unix()
}

// Verify checks signature, algorithm and expiry and returns the claims.
func (c *TokenCodec) Verify(token string) (ClaimsToken, error) {
	claims := ClaimsToken{}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return c.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ClaimsToken{}, withSource(ErrTokenExpired, err)
		}
		c.logger.Debug("token verification failed", "error", err)
		return ClaimsToken{}, withSource(ErrInvalidToken, err)
	}
	return claims, nil
}
