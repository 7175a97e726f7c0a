package models

import "time"

// Revocation reasons recorded on deactivated sessions
const (
	RevocationReasonMaxSessions = "max sessions exceeded"
	RevocationReasonExpired     = "expired"
	RevocationReasonLogout      = "logout"
	RevocationReasonUser        = "revoked by user"
)

// DefaultMaxConcurrentSessions caps active sessions per identity
const DefaultMaxConcurrentSessions = 3

// Session is an authenticated session owned by the registry
type Session struct {
	SessionID        string     `db:"session_id"`
	Email            string     `db:"email"`
	Role             string     `db:"role"`
	IPAddress        string     `db:"ip_address"`
	UserAgent        string     `db:"user_agent"`
	CreatedAt        time.Time  `db:"created_at"`
	LastActivity     time.Time  `db:"last_activity"`
	ExpiresAt        time.Time  `db:"expires_at"`
	IsActive         bool       `db:"is_active"`
	RevocationReason *string    `db:"revocation_reason"`
	RevokedAt        *time.Time `db:"revoked_at"`
}

// Usable reports whether requests may still ride on this session
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}
