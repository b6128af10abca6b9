package domain

import "time"

// AuthMethod identifies how a session was established.
type AuthMethod string

const (
	AuthMethodPassword  AuthMethod = "password"
	AuthMethodSocial    AuthMethod = "social"
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// Session is the authenticated identity context for the current client
// instance. At most one Session is live at a time; absence of a Session is
// the valid signed-out state.
type Session struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email,omitempty"`
	IsAnonymous bool       `json:"is_anonymous"`
	AuthMethod  AuthMethod `json:"auth_method"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt time.Time  `json:"last_login_at"`
}

// Valid reports whether the session satisfies its invariants: a non-empty
// user ID, and no email identity attached when anonymous.
func (s *Session) Valid() bool {
	if s == nil || s.UserID == "" {
		return false
	}
	if s.IsAnonymous && s.Email != "" {
		return false
	}
	return true
}
