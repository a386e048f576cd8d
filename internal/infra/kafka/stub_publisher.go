package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

var _ port.SecurityEventPublisher = (*StubPublisher)(nil)

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishLoginSucceeded logs auth.login.succeeded events.
func (p *StubPublisher) PublishLoginSucceeded(_ context.Context, event domain.LoginSucceededEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"session_id": event.SessionID,
		"family_id":  event.FamilyID,
		"method":     event.Method,
		"ip_address": event.IPAddress,
		"login_at":   event.LoginAt,
		"metadata":   event.Metadata,
	}
	p.logEvent(eventLoginSucceeded, event.UserID, event.LoginAt, payload)
	return nil
}

// PublishLoginFailed logs auth.login.failed events.
func (p *StubPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	payload := map[string]any{
		"identifier_hash": event.IdentifierHash,
		"reason":          event.Reason,
		"ip_address":      event.IPAddress,
		"failed_at":       event.FailedAt,
		"metadata":        event.Metadata,
	}
	p.logEvent(eventLoginFailed, "", event.FailedAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"family_id":        event.FamilyID,
		"reason":           event.Reason,
		"sessions_revoked": event.SessionsRevoked,
		"revoked_by":       event.RevokedBy,
		"revoked_at":       event.RevokedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent(eventSessionRevoked, event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishReplayDetected logs auth.session.replay_detected events.
func (p *StubPublisher) PublishReplayDetected(_ context.Context, event domain.ReplayDetectedEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"family_id":        event.FamilyID,
		"replayed_jti":     event.ReplayedJTI,
		"sessions_revoked": event.SessionsRevoked,
		"detected_at":      event.DetectedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent(eventReplayDetected, event.UserID, event.DetectedAt, payload)
	return nil
}

// PublishMagicLinkConsumed logs auth.magiclink.consumed events.
func (p *StubPublisher) PublishMagicLinkConsumed(_ context.Context, event domain.MagicLinkConsumedEvent) error {
	payload := map[string]any{
		"link_id":     event.LinkID,
		"user_id":     event.UserID,
		"email":       event.Email,
		"consumed_at": event.ConsumedAt,
		"metadata":    event.Metadata,
	}
	p.logEvent(eventMagicLinkConsumed, event.UserID, event.ConsumedAt, payload)
	return nil
}
