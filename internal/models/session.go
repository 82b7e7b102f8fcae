package models

import "time"

// Session is the authenticated identity held by the client.
type Session struct {
	Token     string      `json:"token"`
	Username  string      `json:"username"`
	Role      Role        `json:"role"`
	Profile   UserProfile `json:"profile"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	SavedAt   time.Time   `json:"saved_at"`
}

// Valid checks the session invariant: token, username and role are present
// together.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.Username != "" && s.Role.Valid()
}

// Expired reports whether the token's advertised expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Clone returns a deep copy safe to hand to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	if s.Profile.CreatedAt != nil {
		created := *s.Profile.CreatedAt
		out.Profile.CreatedAt = &created
	}
	return &out
}
