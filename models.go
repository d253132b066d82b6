package auth

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is the default role for trade users
	RoleUser UserRole = "user"
	// RoleAdmin can manage users, settings and catalog data
	RoleAdmin UserRole = "admin"
	// RoleSupplier is a profile role for supplier accounts
	RoleSupplier UserRole = "supplier"
	// RoleAgent is a profile role for field agents
	RoleAgent UserRole = "agent"
)

// Industry is the vertical a user trades in
type Industry = string

const (
	IndustryConstruction Industry = "construction"
	IndustryAgriculture  Industry = "agriculture"
)

// AuthUser is the identity published by the coordinator. It is a value:
// every state transition replaces it wholesale.
type AuthUser struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Company  string   `json:"company"`
	Industry Industry `json:"industry"`
	Country  string   `json:"country"`
	Role     UserRole `json:"role"`
}

// AuthState is the single live view of "who is the current user".
// Error is empty when there is no error.
type AuthState struct {
	User    *AuthUser `json:"user"`
	Loading bool      `json:"loading"`
	Error   string    `json:"error,omitempty"`
}

func (s AuthState) clone() AuthState {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// ProfileRow is the persisted identity record. Once it exists it is the
// sole source of role, industry and country.
type ProfileRow struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            string         `bun:"id,pk" json:"id"`
	Email         string         `bun:"email,notnull" json:"email"`
	Name          string         `bun:"name" json:"name"`
	Company       string         `bun:"company" json:"company"`
	Industry      Industry       `bun:"industry" json:"industry"`
	Country       string         `bun:"country" json:"country"`
	Role          UserRole       `bun:"role,notnull" json:"role"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ProfilePatch lists the columns Update may change. Nil fields are left untouched.
type ProfilePatch struct {
	Name     *string
	Company  *string
	Industry *Industry
	Country  *string
	Role     *UserRole
	Metadata map[string]any
}

// IsEmpty reports whether the patch changes nothing.
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.Company == nil && p.Industry == nil &&
		p.Country == nil && p.Role == nil && p.Metadata == nil
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Name     string   `json:"name"`
	Company  string   `json:"company"`
	Industry Industry `json:"industry"`
	Country  string   `json:"country"`
}

// Metadata is the profile metadata sent to the remote provider on sign up.
func (in RegisterInput) Metadata() map[string]any {
	return map[string]any{
		"name":     in.Name,
		"company":  in.Company,
		"industry": NormalizeIndustry(in.Industry),
		"country":  in.Country,
	}
}

// IsValidIndustry reports whether the value is a supported industry.
func IsValidIndustry(industry string) bool {
	switch Industry(strings.ToLower(strings.TrimSpace(industry))) {
	case IndustryConstruction, IndustryAgriculture:
		return true
	default:
		return false
	}
}

// NormalizeIndustry constrains the value to the supported set, defaulting
// to construction.
func NormalizeIndustry(industry string) Industry {
	v := Industry(strings.ToLower(strings.TrimSpace(industry)))
	if IsValidIndustry(v) {
		return v
	}
	return IndustryConstruction
}

func userFromProfile(row *ProfileRow) AuthUser {
	return AuthUser{
		ID:       row.ID,
		Name:     row.Name,
		Email:    row.Email,
		Company:  row.Company,
		Industry: NormalizeIndustry(row.Industry),
		Country:  row.Country,
		Role:     SessionRole(row.Role),
	}
}
