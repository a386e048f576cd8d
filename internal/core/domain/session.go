package domain

import "time"

// Session represents a persisted login session. A session anchors one refresh
// token family: family_id is minted at login and survives every rotation,
// while current_jti always names the single refresh token the family will
// honor next.
type Session struct {
	ID           string
	UserID       string
	FamilyID     string
	CurrentJTI   string
	ReusedJTIOf  *string
	DeviceHash   *string
	LastIPCIDR   *string
	AuthTime     time.Time
	CreatedAt    time.Time
	LastUsed     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	RevokeReason *string
}

// IsActive reports whether the session is still valid (not revoked and not
// expired at the supplied moment).
func (s Session) IsActive(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(at)
}

// Rotate advances the session to a new refresh JTI, remembering the one it
// replaces so a later presentation of the old token is recognizable as replay.
func (s *Session) Rotate(newJTI string, at time.Time) {
	old := s.CurrentJTI
	s.ReusedJTIOf = &old
	s.CurrentJTI = newJTI
	s.LastUsed = at
}

// Revoke marks the session as revoked. Returns true when the session changed
// state, false when it was already revoked.
func (s *Session) Revoke(at time.Time, reason string) bool {
	if s.RevokedAt != nil {
		return false
	}
	s.RevokedAt = &at
	s.RevokeReason = &reason
	return true
}

// Revocation reasons recorded on session rows and surfaced in audit events.
const (
	RevokeReasonUserLogout     = "user_logout"
	RevokeReasonReplayDetected = "replay_detected"
	RevokeReasonAdminAction    = "admin_action"
	RevokeReasonUserRequest    = "user_request"
)
