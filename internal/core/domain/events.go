package domain

import "time"

// LoginSucceededEvent represents the payload for auth.login.succeeded messages.
type LoginSucceededEvent struct {
	EventID   string
	UserID    string
	SessionID string
	FamilyID  string
	Method    string
	IPAddress *string
	LoginAt   time.Time
	Metadata  map[string]any
}

// LoginFailedEvent represents the payload for auth.login.failed messages. The
// identifier is carried only as a hash so the event stream never stores raw
// usernames from failed attempts.
type LoginFailedEvent struct {
	EventID        string
	IdentifierHash string
	Reason         string
	IPAddress      *string
	FailedAt       time.Time
	Metadata       map[string]any
}

// SessionRevokedEvent represents the payload for auth.session.revoked messages.
type SessionRevokedEvent struct {
	EventID         string
	UserID          string
	FamilyID        string
	Reason          string
	SessionsRevoked int
	RevokedBy       string
	RevokedAt       time.Time
	Metadata        map[string]any
}

// ReplayDetectedEvent represents the payload for auth.session.replay_detected
// messages, emitted when a rotated-out refresh JTI is presented again.
type ReplayDetectedEvent struct {
	EventID         string
	UserID          string
	FamilyID        string
	ReplayedJTI     string
	SessionsRevoked int
	DetectedAt      time.Time
	Metadata        map[string]any
}

// MagicLinkConsumedEvent represents the payload for auth.magiclink.consumed
// messages.
type MagicLinkConsumedEvent struct {
	EventID    string
	LinkID     string
	UserID     string
	Email      string
	ConsumedAt time.Time
	Metadata   map[string]any
}
