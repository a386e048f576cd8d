package domain

import "time"

// MagicLink represents a single-use email sign-in link. Only the sha256 hash
// of the issued token is persisted; the plaintext exists solely inside the
// email that was sent.
type MagicLink struct {
	ID            string
	Email         string
	TokenHash     string
	ReturnTo      *string
	RequestIP     *string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
}

// IsPending reports whether the link can still be consumed at the supplied
// moment.
func (m MagicLink) IsPending(at time.Time) bool {
	if m.UsedAt != nil || m.InvalidatedAt != nil {
		return false
	}
	return m.ExpiresAt.After(at)
}
