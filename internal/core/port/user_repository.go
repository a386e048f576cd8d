package port

import (
	"context"
	"time"

	"github.com/communityos/auth-service/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindOrCreateByEmail returns the existing account for the normalized
	// email or provisions a passwordless pending one.
	FindOrCreateByEmail(ctx context.Context, email string, at time.Time) (*domain.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}
