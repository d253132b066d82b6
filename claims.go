package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsToken is the payload of a locally minted token. Iat and Exp are
// Unix seconds.
type ClaimsToken struct {
	Sub      string   `json:"sub"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Company  string   `json:"company"`
	Industry Industry `json:"industry"`
	Country  string   `json:"country"`
	Role     UserRole `json:"role"`
	Iat      int64    `json:"iat"`
	Exp      int64    `json:"exp"`
}

// Verify interface compliance
var _ jwt.Claims = (*ClaimsToken)(nil)

// ClaimsFromUser builds the claims for user issued at iat and valid for ttl.
func ClaimsFromUser(user AuthUser, iat time.Time, ttl time.Duration) ClaimsToken {
	return ClaimsToken{
		Sub:      user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Company:  user.Company,
		Industry: user.Industry,
		Country:  user.Country,
		Role:     user.Role,
		Iat:      iat.Unix(),
		Exp:      iat.Add(ttl).Unix(),
	}
}

// User returns the AuthUser carried by the claims.
func (c ClaimsToken) User() AuthUser {
	return AuthUser{
		ID:       c.Sub,
		Name:     c.Name,
		Email:    c.Email,
		Company:  c.Company,
		Industry: NormalizeIndustry(c.Industry),
		Country:  c.Country,
		Role:     SessionRole(c.Role),
	}
}

// Expires returns the expiration time
func (c ClaimsToken) Expires() time.Time {
	return time.Unix(c.Exp, 0)
}

// IssuedAt returns the issued at time
func (c ClaimsToken) IssuedAt() time.Time {
	return time.Unix(c.Iat, 0)
}

func (c *ClaimsToken) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Exp == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

func (c *ClaimsToken) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.Iat == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

func (c *ClaimsToken) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *ClaimsToken) GetIssuer() (string, error)              { return "", nil }
func (c *ClaimsToken) GetSubject() (string, error)             { return c.Sub, nil }
func (c *ClaimsToken) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }
