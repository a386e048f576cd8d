package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/logger"
	"github.com/communityos/auth-service/internal/infra/security"
	"github.com/communityos/auth-service/internal/repository"
)

const (
	magicLinkEmailKeyPrefix = "magiclink:email:"
	magicLinkIPKeyPrefix    = "magiclink:ip:"

	magicLinkEmailSubject = "Your sign-in link"
)

// MagicLinkService issues and redeems single-use email sign-in links.
type MagicLinkService struct {
	cfg    *config.AppConfig
	links  port.MagicLinkRepository
	users  port.UserRepository
	limits port.RateLimitStore
	sender port.EmailSender
	events port.SecurityEventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewMagicLinkService constructs a MagicLinkService instance.
func NewMagicLinkService(
	cfg *config.AppConfig,
	links port.MagicLinkRepository,
	users port.UserRepository,
	limits port.RateLimitStore,
	sender port.EmailSender,
	events port.SecurityEventPublisher,
	log *zap.Logger,
) *MagicLinkService {
	return &MagicLinkService{
		cfg:    cfg,
		links:  links,
		users:  users,
		limits: limits,
		sender: sender,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *MagicLinkService) WithClock(now func() time.Time) *MagicLinkService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateAndSend issues a fresh link and dispatches it by email. Outcomes that
// would reveal whether an account exists collapse into generic success.
func (s *MagicLinkService) CreateAndSend(ctx context.Context, email, returnTo, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("valid email is required")
	}

	now := s.now().UTC()
	if err := s.checkIssuanceLimits(ctx, email, ip, now); err != nil {
		return err
	}

	user, err := s.users.FindOrCreateByEmail(ctx, email, now)
	if err != nil {
		return fmt.Errorf("find or create user: %w", err)
	}

	linkID := uuid.NewString()
	token := security.SignMagicLinkToken([]byte(s.cfg.MagicLink.Secret), linkID, email, now)

	link := domain.MagicLink{
		ID:        linkID,
		Email:     email,
		TokenHash: security.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.MagicLink.TTL),
	}
	if rt := strings.TrimSpace(returnTo); rt != "" {
		link.ReturnTo = &rt
	}
	if cidr := ipToCIDR(ip); cidr != "" {
		link.RequestIP = &cidr
	}

	if err := s.links.Create(ctx, link); err != nil {
		return fmt.Errorf("store magic link: %w", err)
	}

	s.recordIssuance(ctx, email, ip, now)

	linkURL := s.buildLinkURL(token, email, returnTo)
	htmlBody := fmt.Sprintf(`<p>Click the link below to sign in. It expires in %d minutes and can be used once.</p><p><a href=%q>Sign in</a></p>`,
		int(s.cfg.MagicLink.TTL.Minutes()), linkURL)
	textBody := fmt.Sprintf("Sign in using this link (expires in %d minutes, single use):\n\n%s\n",
		int(s.cfg.MagicLink.TTL.Minutes()), linkURL)

	if err := s.sender.Send(ctx, email, magicLinkEmailSubject, htmlBody, textBody); err != nil {
		// Delivery failures stay generic so the endpoint cannot be used to
		// probe which addresses exist.
		s.logger.Warn("Magic link delivery failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err))
		return nil
	}

	s.logger.Info("Magic link issued",
		zap.String("link_id", linkID),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("user_id", user.ID))

	return nil
}

// Consume redeems a link. The HMAC is verified before any storage access so
// forged tokens never touch the database. Exactly one concurrent redemption
// wins; the winner retires every other pending link for the email.
func (s *MagicLinkService) Consume(ctx context.Context, token, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	token = strings.TrimSpace(token)
	if token == "" || email == "" {
		return nil, ErrMagicLinkInvalid
	}

	linkID, _, ok := security.ParseMagicLinkToken([]byte(s.cfg.MagicLink.Secret), token, email)
	if !ok {
		return nil, ErrMagicLinkInvalid
	}

	now := s.now().UTC()
	link, err := s.links.Consume(ctx, linkID, security.HashToken(token), now)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrExpired):
			return nil, ErrMagicLinkExpired
		case errors.Is(err, repository.ErrAlreadyConsumed):
			return nil, ErrMagicLinkAlreadyUsed
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrMagicLinkInvalid
		}
		return nil, fmt.Errorf("%w: consume magic link: %v", ErrStorageUnavailable, err)
	}

	if invalidated, err := s.links.InvalidatePendingForEmail(ctx, email, link.ID, now); err != nil {
		s.logger.Warn("Failed to invalidate sibling links", zap.Error(err))
	} else if invalidated > 0 {
		s.logger.Info("Pending sibling links invalidated",
			zap.String("link_id", link.ID),
			zap.Int("invalidated", invalidated))
	}

	user, err := s.users.FindOrCreateByEmail(ctx, email, now)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	// Consuming the link proves control of the mailbox.
	if err := s.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to mark email verified", zap.Error(err))
	} else if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
		if user.Status == domain.UserStatusPending {
			user.Status = domain.UserStatusActive
		}
	}

	if s.events != nil {
		event := domain.MagicLinkConsumedEvent{
			EventID:    uuid.NewString(),
			LinkID:     link.ID,
			UserID:     user.ID,
			Email:      email,
			ConsumedAt: now,
		}
		if err := s.events.PublishMagicLinkConsumed(ctx, event); err != nil {
			s.logger.Warn("Failed to publish magic link event", zap.Error(err))
		}
	}

	sanitized := sanitizeUser(user)
	return &sanitized, nil
}

func (s *MagicLinkService) checkIssuanceLimits(ctx context.Context, email, ip string, now time.Time) error {
	window := s.cfg.MagicLink.IssuanceWindow
	if window <= 0 {
		window = time.Hour
	}

	if err := s.checkLimit(ctx, magicLinkEmailKeyPrefix+security.HashIdentifier(email), s.cfg.MagicLink.PerEmailLimit, window, now); err != nil {
		return err
	}

	if cidr := ipToCIDR(ip); cidr != "" {
		if err := s.checkLimit(ctx, magicLinkIPKeyPrefix+security.HashToken(cidr), s.cfg.MagicLink.PerIPLimit, window, now); err != nil {
			return err
		}
	}

	return nil
}

func (s *MagicLinkService) checkLimit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) error {
	if limit <= 0 || s.limits == nil {
		return nil
	}

	if err := s.limits.TrimWindow(ctx, key, window, now); err != nil {
		s.logger.Warn("Issuance limiter trim failed, failing open", zap.Error(err))
		return nil
	}

	count, err := s.limits.CountAttempts(ctx, key, window, now)
	if err != nil {
		s.logger.Warn("Issuance limiter count failed, failing open", zap.Error(err))
		return nil
	}

	if count < limit {
		return nil
	}

	retryAfter := window
	if oldest, found, err := s.limits.OldestAttempt(ctx, key, window, now); err == nil && found {
		if remaining := oldest.Add(window).Sub(now); remaining > 0 {
			retryAfter = remaining
		}
	}

	return &RateLimitedError{
		RetryAfter: retryAfter,
		Message:    "too many sign-in link requests",
	}
}

func (s *MagicLinkService) recordIssuance(ctx context.Context, email, ip string, now time.Time) {
	if s.limits == nil {
		return
	}

	if err := s.limits.RecordAttempt(ctx, magicLinkEmailKeyPrefix+security.HashIdentifier(email), now); err != nil {
		s.logger.Warn("Failed to record per-email issuance", zap.Error(err))
	}

	if cidr := ipToCIDR(ip); cidr != "" {
		if err := s.limits.RecordAttempt(ctx, magicLinkIPKeyPrefix+security.HashToken(cidr), now); err != nil {
			s.logger.Warn("Failed to record per-ip issuance", zap.Error(err))
		}
	}
}

func (s *MagicLinkService) buildLinkURL(token, email, returnTo string) string {
	values := url.Values{}
	values.Set("token", token)
	values.Set("email", email)
	if rt := strings.TrimSpace(returnTo); rt != "" {
		values.Set("rt", rt)
	}

	return fmt.Sprintf("%s?%s", s.cfg.MagicLink.BaseURL, values.Encode())
}
