package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/repository"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionForbidden indicates that the session is not owned by the caller.
	ErrSessionForbidden = errors.New("session not owned by user")
)

// SessionService owns the session lifecycle: creation on login, rotation on
// refresh with replay escalation, revocation, and expired-row cleanup.
type SessionService struct {
	cfg      *config.AppConfig
	sessions port.SessionRepository
	events   port.SecurityEventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(cfg *config.AppConfig, sessions port.SessionRepository, events port.SecurityEventPublisher, log *zap.Logger) *SessionService {
	return &SessionService{
		cfg:      cfg,
		sessions: sessions,
		events:   events,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	if now != nil {
		s.now = now
	}
	return s
}

// Establish creates a fresh session row anchoring a new refresh family.
func (s *SessionService) Establish(ctx context.Context, userID, refreshJTI string, ttl time.Duration, deviceHash, ipCIDR *string) (*domain.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if refreshJTI == "" {
		return nil, fmt.Errorf("refresh jti is required")
	}

	now := s.now().UTC()
	session := domain.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		FamilyID:   uuid.NewString(),
		CurrentJTI: refreshJTI,
		DeviceHash: deviceHash,
		LastIPCIDR: ipCIDR,
		AuthTime:   now,
		CreatedAt:  now,
		LastUsed:   now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session, nil
}

// Rotate advances the family from oldJTI to newJTI. A refused rotation is
// inspected for replay: a rotated-out jti presented again revokes the whole
// family and emits an audit event. The caller only ever sees a generic
// invalid-token error so detection details stay internal.
func (s *SessionService) Rotate(ctx context.Context, session *domain.Session, oldJTI, newJTI string) error {
	now := s.now().UTC()

	rotated, err := s.sessions.RotateCurrentJTI(ctx, session.FamilyID, oldJTI, newJTI, now)
	if err != nil {
		return fmt.Errorf("%w: rotate session: %v", ErrStorageUnavailable, err)
	}
	if rotated {
		return nil
	}

	replayed, err := s.sessions.IsReplayedJTI(ctx, session.FamilyID, oldJTI)
	if err != nil {
		return fmt.Errorf("%w: check replayed jti: %v", ErrStorageUnavailable, err)
	}
	if !replayed {
		// Revoked or expired family; nothing to escalate.
		return ErrInvalidToken
	}

	revoked, err := s.sessions.RevokeFamily(ctx, session.FamilyID, domain.RevokeReasonReplayDetected, now)
	if err != nil {
		return fmt.Errorf("%w: revoke family after replay: %v", ErrStorageUnavailable, err)
	}

	s.logger.Warn("Refresh token replay detected, family revoked",
		zap.String("family_id", session.FamilyID),
		zap.Int("sessions_revoked", revoked))

	if s.events != nil {
		event := domain.ReplayDetectedEvent{
			EventID:         uuid.NewString(),
			UserID:          session.UserID,
			FamilyID:        session.FamilyID,
			ReplayedJTI:     oldJTI,
			SessionsRevoked: revoked,
			DetectedAt:      now,
		}
		if err := s.events.PublishReplayDetected(ctx, event); err != nil {
			s.logger.Warn("Failed to publish replay event", zap.Error(err))
		}
	}

	return ErrReplayDetected
}

// ListActive returns all active sessions for the user.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	sessions, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	return sessions, nil
}

// RevokeSession revokes the family of a session owned by the user.
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID, reason string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if reason == "" {
		reason = domain.RevokeReasonUserRequest
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("fetch session: %w", err)
	}

	if userID != "" && session.UserID != userID {
		return ErrSessionForbidden
	}

	return s.revokeFamily(ctx, session, reason, userID)
}

// Logout revokes the session family, reason user_logout.
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("fetch session: %w", err)
	}

	return s.revokeFamily(ctx, session, domain.RevokeReasonUserLogout, session.UserID)
}

// CleanupExpired removes sessions that expired longer ago than the configured
// retention. Invoked by an external scheduler, never a background loop.
func (s *SessionService) CleanupExpired(ctx context.Context) (int, error) {
	retention := s.cfg.Sessions.ExpiredRetention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	cutoff := s.now().UTC().Add(-retention)
	deleted, err := s.sessions.CleanupExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("Expired sessions cleaned up",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	return deleted, nil
}

func (s *SessionService) revokeFamily(ctx context.Context, session *domain.Session, reason, revokedBy string) error {
	now := s.now().UTC()

	revoked, err := s.sessions.RevokeFamily(ctx, session.FamilyID, reason, now)
	if err != nil {
		return fmt.Errorf("revoke session family: %w", err)
	}

	if s.events != nil {
		event := domain.SessionRevokedEvent{
			EventID:         uuid.NewString(),
			UserID:          session.UserID,
			FamilyID:        session.FamilyID,
			Reason:          reason,
			SessionsRevoked: revoked,
			RevokedBy:       revokedBy,
			RevokedAt:       now,
		}
		if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
			s.logger.Warn("Failed to publish session revoked event", zap.Error(err))
		}
	}

	return nil
}
