package models

import "strings"

// Role is the capability class of the authenticated user.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Label returns the display label used in greetings.
func (r Role) Label() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleStudent:
		return "Student"
	default:
		return "Guest"
	}
}

// UserProfile is the account returned by GET /me and POST /register.
type UserProfile struct {
	ID        int        `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	Role      string     `json:"role,omitempty"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
}

// NormalizeRole derives the role of a profile. The task API reports
// is_admin; an explicit role string takes precedence when a server sends one.
func NormalizeRole(p UserProfile) Role {
	switch strings.ToLower(strings.TrimSpace(p.Role)) {
	case "admin", "administrator", "superadmin":
		return RoleAdmin
	case "student":
		return RoleStudent
	}
	if p.IsAdmin {
		return RoleAdmin
	}
	return RoleStudent
}

// TokenResponse is the POST /login payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
