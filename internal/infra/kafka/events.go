package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
)

const schemaVersion = "1.0"

// Security event types published to the audit stream.
const (
	eventLoginSucceeded    = "auth.login.succeeded"
	eventLoginFailed       = "auth.login.failed"
	eventSessionRevoked    = "auth.session.revoked"
	eventReplayDetected    = "auth.session.replay_detected"
	eventMagicLinkConsumed = "auth.magiclink.consumed"
)

// SecurityEventPublisher implements port.SecurityEventPublisher using Kafka.
type SecurityEventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

var _ port.SecurityEventPublisher = (*SecurityEventPublisher)(nil)

// NewSecurityEventPublisher constructs a Kafka-backed security event publisher.
func NewSecurityEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *SecurityEventPublisher {
	return &SecurityEventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *SecurityEventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: envelopeMetadata{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishLoginSucceeded publishes auth.login.succeeded events.
func (p *SecurityEventPublisher) PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		SessionID string         `json:"session_id"`
		FamilyID  string         `json:"family_id"`
		Method    string         `json:"method"`
		IPAddress *string        `json:"ip_address,omitempty"`
		LoginAt   time.Time      `json:"login_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		SessionID: event.SessionID,
		FamilyID:  event.FamilyID,
		Method:    event.Method,
		IPAddress: event.IPAddress,
		LoginAt:   event.LoginAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventLoginSucceeded, event.UserID, event.LoginAt, payload)
}

// PublishLoginFailed publishes auth.login.failed events.
func (p *SecurityEventPublisher) PublishLoginFailed(ctx context.Context, event domain.LoginFailedEvent) error {
	payload := struct {
		IdentifierHash string         `json:"identifier_hash"`
		Reason         string         `json:"reason"`
		IPAddress      *string        `json:"ip_address,omitempty"`
		FailedAt       time.Time      `json:"failed_at"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		IdentifierHash: event.IdentifierHash,
		Reason:         event.Reason,
		IPAddress:      event.IPAddress,
		FailedAt:       event.FailedAt.UTC(),
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventLoginFailed, "", event.FailedAt, payload)
}

// PublishSessionRevoked publishes auth.session.revoked events.
func (p *SecurityEventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		FamilyID        string         `json:"family_id"`
		Reason          string         `json:"reason"`
		SessionsRevoked int            `json:"sessions_revoked"`
		RevokedBy       string         `json:"revoked_by"`
		RevokedAt       time.Time      `json:"revoked_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		FamilyID:        event.FamilyID,
		Reason:          event.Reason,
		SessionsRevoked: event.SessionsRevoked,
		RevokedBy:       event.RevokedBy,
		RevokedAt:       event.RevokedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventSessionRevoked, event.UserID, event.RevokedAt, payload)
}

// PublishReplayDetected publishes auth.session.replay_detected events.
func (p *SecurityEventPublisher) PublishReplayDetected(ctx context.Context, event domain.ReplayDetectedEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		FamilyID        string         `json:"family_id"`
		ReplayedJTI     string         `json:"replayed_jti"`
		SessionsRevoked int            `json:"sessions_revoked"`
		DetectedAt      time.Time      `json:"detected_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		FamilyID:        event.FamilyID,
		ReplayedJTI:     event.ReplayedJTI,
		SessionsRevoked: event.SessionsRevoked,
		DetectedAt:      event.DetectedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventReplayDetected, event.UserID, event.DetectedAt, payload)
}

// PublishMagicLinkConsumed publishes auth.magiclink.consumed events.
func (p *SecurityEventPublisher) PublishMagicLinkConsumed(ctx context.Context, event domain.MagicLinkConsumedEvent) error {
	payload := struct {
		LinkID     string         `json:"link_id"`
		UserID     string         `json:"user_id"`
		Email      string         `json:"email"`
		ConsumedAt time.Time      `json:"consumed_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		LinkID:     event.LinkID,
		UserID:     event.UserID,
		Email:      event.Email,
		ConsumedAt: event.ConsumedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventMagicLinkConsumed, event.UserID, event.ConsumedAt, payload)
}
