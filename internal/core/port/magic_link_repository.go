package port

import (
	"context"
	"time"

	"github.com/communityos/auth-service/internal/core/domain"
)

// MagicLinkRepository persists single-use email sign-in links. Rows are never
// deleted on consumption so the table doubles as an audit trail.
type MagicLinkRepository interface {
	Create(ctx context.Context, link domain.MagicLink) error
	GetByID(ctx context.Context, id string) (*domain.MagicLink, error)
	// Consume marks the link used under a row lock. Exactly one concurrent
	// caller wins; losers receive repository.ErrAlreadyConsumed. Expired or
	// invalidated links yield repository.ErrExpired / ErrAlreadyConsumed,
	// and a token-hash mismatch yields repository.ErrNotFound.
	Consume(ctx context.Context, id string, tokenHash string, at time.Time) (*domain.MagicLink, error)
	// InvalidatePendingForEmail retires every pending link for the email
	// except the one being consumed, enforcing one-link-wins.
	InvalidatePendingForEmail(ctx context.Context, email string, exceptID string, at time.Time) (int, error)
}
