package port

import (
	"context"
	"time"

	"github.com/communityos/auth-service/internal/core/domain"
)

// SessionRepository deals with session and refresh-token-family storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	// GetByRefreshJTI resolves the session a presented refresh token belongs
	// to, matching either the current JTI or a rotated-out one.
	GetByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error)
	// RotateCurrentJTI atomically advances the family from oldJTI to newJTI.
	// Returns false with a nil error when the guarded update matched no row,
	// which the caller must treat as a possible replay.
	RotateCurrentJTI(ctx context.Context, familyID, oldJTI, newJTI string, at time.Time) (bool, error)
	// IsReplayedJTI reports whether jti was ever rotated out of the family.
	IsReplayedJTI(ctx context.Context, familyID, jti string) (bool, error)
	Revoke(ctx context.Context, sessionID string, reason string, at time.Time) error
	// RevokeFamily revokes every non-revoked session in the family and
	// returns how many rows changed state. Idempotent.
	RevokeFamily(ctx context.Context, familyID string, reason string, at time.Time) (int, error)
	// CleanupExpired deletes sessions whose expiry predates the cutoff.
	CleanupExpired(ctx context.Context, cutoff time.Time) (int, error)
}
