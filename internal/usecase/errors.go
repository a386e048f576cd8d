package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials indicates the provided identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is disabled or locked.
	ErrInactiveAccount = errors.New("account is not active")
	// ErrInvalidToken indicates the provided token is malformed or failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the provided token has expired.
	ErrExpiredToken = errors.New("token expired")
	// ErrReplayDetected indicates a rotated-out refresh token was presented
	// again. Internal only; the transport layer maps it to a generic 401.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrCaptchaRequired indicates the login attempt must carry a valid captcha response.
	ErrCaptchaRequired = errors.New("captcha verification required")
	// ErrMagicLinkInvalid indicates the magic link token is malformed or forged.
	ErrMagicLinkInvalid = errors.New("magic link invalid")
	// ErrMagicLinkExpired indicates the magic link outlived its TTL.
	ErrMagicLinkExpired = errors.New("magic link expired")
	// ErrMagicLinkAlreadyUsed indicates another redemption won the race.
	ErrMagicLinkAlreadyUsed = errors.New("magic link already used")
	// ErrEmailAlreadyRegistered indicates signup hit an existing account.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrStorageUnavailable indicates a security-critical store could not be
	// reached; the operation fails closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RateLimitedError rejects an attempt and tells the caller when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
