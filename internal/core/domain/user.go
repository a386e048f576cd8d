package domain

import "time"

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusLocked   UserStatus = "locked"
	UserStatusDisabled UserStatus = "disabled"
)

// User mirrors the persisted representation in the users table. PasswordHash
// is empty for accounts created through magic-link sign-in that never set a
// password.
type User struct {
	ID              string
	Email           string
	Name            *string
	PasswordHash    string
	Roles           []string
	Status          UserStatus
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	LastLogin       *time.Time
}

// CanAuthenticate reports whether the account state permits issuing tokens.
func (u User) CanAuthenticate() bool {
	return u.Status == UserStatusActive || u.Status == UserStatusPending
}

// EmailVerified reports whether the account has completed email verification.
func (u User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}
