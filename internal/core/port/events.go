package port

import (
	"context"

	"github.com/communityos/auth-service/internal/core/domain"
)

// SecurityEventPublisher publishes security audit events to the message bus.
type SecurityEventPublisher interface {
	PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error
	PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishReplayDetected(ctx context.Context, event domain.ReplayDetectedEvent) error
	PublishMagicLinkConsumed(ctx context.Context, event domain.MagicLinkConsumedEvent) error
}
