package port

import (
	"context"
	"time"
)

// AbuseStore tracks failed-login pressure per hashed identifier. Counters are
// approximate under concurrency in the safe direction only: overcounting a
// failure is acceptable, losing one is not.
type AbuseStore interface {
	// IncrementFailures bumps the failure counter and refreshes its TTL,
	// returning the new count.
	IncrementFailures(ctx context.Context, identifierHash string, window time.Duration) (int64, error)
	FailureCount(ctx context.Context, identifierHash string) (int64, error)
	SetCaptchaRequired(ctx context.Context, identifierHash string, window time.Duration) error
	CaptchaRequired(ctx context.Context, identifierHash string) (bool, error)
	TouchLastAttempt(ctx context.Context, identifierHash string, at time.Time, window time.Duration) error
	LastAttempt(ctx context.Context, identifierHash string) (time.Time, bool, error)
	// Reset clears all abuse state for the identifier after a successful
	// authentication.
	Reset(ctx context.Context, identifierHash string) error
}
