package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/logger"
	"github.com/communityos/auth-service/internal/infra/security"
)

const (
	defaultCaptchaThreshold = 3
	defaultBlockThreshold   = 5
	defaultFailureWindow    = time.Hour

	backoffBaseSeconds = 300
	backoffCapSeconds  = 3600
)

// AbuseControlService tracks failed-login pressure per identifier and decides
// whether an attempt may proceed. The store is advisory: if it is unreachable
// the service fails open so an outage cannot lock every user out.
type AbuseControlService struct {
	cfg     config.AbuseSettings
	store   port.AbuseStore
	captcha port.CaptchaVerifier
	logger  *zap.Logger
	now     func() time.Time
}

// NewAbuseControlService constructs the abuse gate.
func NewAbuseControlService(cfg config.AbuseSettings, store port.AbuseStore, captcha port.CaptchaVerifier, log *zap.Logger) *AbuseControlService {
	if cfg.CaptchaThreshold <= 0 {
		cfg.CaptchaThreshold = defaultCaptchaThreshold
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = defaultBlockThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = defaultFailureWindow
	}

	return &AbuseControlService{
		cfg:     cfg,
		store:   store,
		captcha: captcha,
		logger:  log,
		now:     time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *AbuseControlService) WithClock(now func() time.Time) *AbuseControlService {
	if now != nil {
		s.now = now
	}
	return s
}

// CheckLoginAbuse reads the failure counter for the identifier and maps it to
// a verdict: allowed, captcha required, or blocked with backoff.
func (s *AbuseControlService) CheckLoginAbuse(ctx context.Context, identifier string) domain.AbuseStatus {
	hash := security.HashIdentifier(identifier)

	count, err := s.store.FailureCount(ctx, hash)
	if err != nil {
		s.logger.Warn("Abuse store unavailable, failing open",
			zap.String("identifier", logger.MaskString(identifier)),
			zap.Error(err))
		return domain.AllowedStatus(s.cfg.BlockThreshold)
	}

	attempts := int(count)
	remaining := s.cfg.BlockThreshold - attempts
	if remaining < 0 {
		remaining = 0
	}

	captchaFlag, err := s.store.CaptchaRequired(ctx, hash)
	if err != nil {
		s.logger.Warn("Abuse store captcha flag read failed, failing open", zap.Error(err))
		captchaFlag = false
	}

	if attempts >= s.cfg.BlockThreshold {
		backoff := calculateBackoff(attempts)
		if remaining := s.backoffRemaining(ctx, hash, backoff); remaining > 0 {
			return domain.AbuseStatus{
				Allowed:         false,
				RequiresCaptcha: true,
				BackoffSeconds:  remaining,
				Message:         "too many failed attempts, try again later",
			}
		}

		// Backoff elapsed; next attempt is allowed but still gated by captcha.
		return domain.AbuseStatus{
			Allowed:         true,
			RequiresCaptcha: true,
		}
	}

	if attempts >= s.cfg.CaptchaThreshold || captchaFlag {
		return domain.AbuseStatus{
			Allowed:           true,
			RequiresCaptcha:   true,
			AttemptsRemaining: remaining,
		}
	}

	return domain.AllowedStatus(remaining)
}

// RecordFailedLogin bumps the failure counter. At the captcha threshold it
// also sets the captcha flag so the requirement survives counter expiry.
func (s *AbuseControlService) RecordFailedLogin(ctx context.Context, identifier, ip string) {
	hash := security.HashIdentifier(identifier)

	count, err := s.store.IncrementFailures(ctx, hash, s.cfg.FailureWindow)
	if err != nil {
		s.logger.Warn("Failed to record login failure",
			zap.String("identifier", logger.MaskString(identifier)),
			zap.String("ip", logger.MaskIP(ip)),
			zap.Error(err))
		return
	}

	if int(count) >= s.cfg.CaptchaThreshold {
		if err := s.store.SetCaptchaRequired(ctx, hash, s.cfg.FailureWindow); err != nil {
			s.logger.Warn("Failed to set captcha flag", zap.Error(err))
		}
	}

	if err := s.store.TouchLastAttempt(ctx, hash, s.now().UTC(), s.cfg.FailureWindow); err != nil {
		s.logger.Warn("Failed to record last attempt time", zap.Error(err))
	}
}

// RecordSuccessfulLogin clears all abuse state for the identifier.
func (s *AbuseControlService) RecordSuccessfulLogin(ctx context.Context, identifier, ip string) {
	hash := security.HashIdentifier(identifier)

	if err := s.store.Reset(ctx, hash); err != nil {
		s.logger.Warn("Failed to reset abuse state",
			zap.String("identifier", logger.MaskString(identifier)),
			zap.String("ip", logger.MaskIP(ip)),
			zap.Error(err))
	}
}

// VerifyCaptcha checks the response token with the configured provider. A
// disabled verifier always accepts.
func (s *AbuseControlService) VerifyCaptcha(ctx context.Context, responseToken, ip string) (bool, error) {
	if s.captcha == nil || !s.captcha.Enabled() {
		return true, nil
	}

	ok, err := s.captcha.Verify(ctx, responseToken, ip)
	if err != nil {
		return false, fmt.Errorf("verify captcha: %w", err)
	}

	return ok, nil
}

func (s *AbuseControlService) backoffRemaining(ctx context.Context, hash string, backoffSeconds int) int {
	if backoffSeconds <= 0 {
		return 0
	}

	last, found, err := s.store.LastAttempt(ctx, hash)
	if err != nil {
		s.logger.Warn("Abuse store last-attempt read failed, failing open", zap.Error(err))
		return 0
	}
	if !found {
		return backoffSeconds
	}

	elapsed := s.now().UTC().Sub(last)
	remaining := time.Duration(backoffSeconds)*time.Second - elapsed
	if remaining <= 0 {
		return 0
	}

	return int(remaining / time.Second)
}

// calculateBackoff returns the lockout duration in seconds after the given
// number of failed attempts: 0, 0, 300, 600, 1200, ... capped at 3600.
func calculateBackoff(attempts int) int {
	if attempts <= 1 {
		return 0
	}

	shift := attempts - 2
	// 300 << 4 already exceeds the cap; avoid overflow on large counters.
	if shift > 4 {
		return backoffCapSeconds
	}

	backoff := backoffBaseSeconds << shift
	if backoff > backoffCapSeconds {
		return backoffCapSeconds
	}

	return backoff
}
