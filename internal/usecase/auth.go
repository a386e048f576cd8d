package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/logger"
	"github.com/communityos/auth-service/internal/infra/security"
	"github.com/communityos/auth-service/internal/repository"
)

const uniqueViolationCode = "23505"

// LoginInput carries everything a password login needs.
type LoginInput struct {
	Identifier   string
	Password     string
	CaptchaToken string
	RememberMe   bool
	IPAddress    string
	UserAgent    string
}

// RegisterInput carries signup fields.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// TokenPair bundles a freshly minted access/refresh token pair.
type TokenPair struct {
	AccessToken     string
	AccessTokenTTL  time.Duration
	RefreshToken    string
	RefreshTokenTTL time.Duration
}

// LoginResult is returned by every flow that establishes a session.
type LoginResult struct {
	User    domain.User
	Session domain.Session
	Tokens  TokenPair
}

// AuthService coordinates credential logins, token refresh, and signup.
type AuthService struct {
	cfg      *config.AppConfig
	users    port.UserRepository
	tokens   *security.TokenManager
	sessions *SessionService
	abuse    *AbuseControlService
	events   port.SecurityEventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	tokens *security.TokenManager,
	sessions *SessionService,
	abuse *AbuseControlService,
	events port.SecurityEventPublisher,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		abuse:    abuse,
		events:   events,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Login validates credentials behind the abuse gate and establishes a new
// session family.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if input.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	status := s.abuse.CheckLoginAbuse(ctx, identifier)
	if !status.Allowed {
		return nil, &RateLimitedError{
			RetryAfter: time.Duration(status.BackoffSeconds) * time.Second,
			Message:    status.Message,
		}
	}

	if status.RequiresCaptcha {
		if input.CaptchaToken == "" {
			return nil, ErrCaptchaRequired
		}
		ok, err := s.abuse.VerifyCaptcha(ctx, input.CaptchaToken, input.IPAddress)
		if err != nil {
			s.logger.Warn("Captcha verification failed", zap.Error(err))
			return nil, ErrCaptchaRequired
		}
		if !ok {
			s.recordFailure(ctx, identifier, input.IPAddress, "captcha_failed")
			return nil, ErrCaptchaRequired
		}
	}

	user, err := s.users.GetByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordFailure(ctx, identifier, input.IPAddress, "unknown_identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.CanAuthenticate() {
		return nil, ErrInactiveAccount
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.recordFailure(ctx, identifier, input.IPAddress, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	result, err := s.establishSession(ctx, user, "password", input)
	if err != nil {
		return nil, err
	}

	s.abuse.RecordSuccessfulLogin(ctx, identifier, input.IPAddress)

	return result, nil
}

// LoginWithMagicLink establishes a session for a user who proved control of
// their email. The abuse gate does not apply; link issuance is rate limited
// separately.
func (s *AuthService) LoginWithMagicLink(ctx context.Context, user *domain.User, ipAddress, userAgent string) (*LoginResult, error) {
	if user == nil {
		return nil, fmt.Errorf("user is required")
	}
	if !user.CanAuthenticate() {
		return nil, ErrInactiveAccount
	}

	return s.establishSession(ctx, user, "magic_link", LoginInput{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})
}

// Refresh validates the refresh token, rotates the session family, and mints
// a new token pair. Storage failures fail closed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	claims := s.tokens.VerifyRefreshToken(refreshToken, s.cfg.JWT.Leeway)
	if claims == nil {
		return nil, s.classifyVerifyFailure(refreshToken)
	}

	jti := claims.ID
	if jti == "" {
		return nil, ErrInvalidToken
	}

	session, err := s.sessions.sessions.GetByRefreshJTI(ctx, jti)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: lookup session: %v", ErrStorageUnavailable, err)
	}

	// Remember-me shows up as an extended validity window on the old token;
	// the replacement keeps the same class.
	rememberMe := false
	if claims.ExpiresAt != nil && claims.IssuedAt != nil {
		rememberMe = claims.ExpiresAt.Sub(claims.IssuedAt.Time) > s.cfg.JWT.RefreshTokenTTL
	}

	newRefresh, refreshTTL, err := s.tokens.MintRefreshToken(claims.UserID, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}
	newJTI := s.tokens.ExtractJTI(newRefresh)
	if newJTI == "" {
		return nil, fmt.Errorf("minted refresh token has no jti")
	}

	if err := s.sessions.Rotate(ctx, session, jti, newJTI); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanAuthenticate() {
		return nil, ErrInactiveAccount
	}

	accessToken, accessTTL, err := s.tokens.MintAccessToken(user.ID, user.Email, user.Roles, session.ID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	rotated := *session
	rotated.Rotate(newJTI, s.now().UTC())

	return &LoginResult{
		User:    sanitizeUser(user),
		Session: rotated,
		Tokens: TokenPair{
			AccessToken:     accessToken,
			AccessTokenTTL:  accessTTL,
			RefreshToken:    newRefresh,
			RefreshTokenTTL: refreshTTL,
		},
	}, nil
}

// Logout revokes the whole session family.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Logout(ctx, sessionID)
}

// Register creates an email+password account in pending state. Verification
// is completed out of band by consuming a magic link.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email is required")
	}

	name := strings.TrimSpace(input.Name)
	validator := security.DefaultPasswordValidator(email, name)
	if err := validator.Validate(input.Password); err != nil {
		return nil, err
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{"member"},
		Status:       domain.UserStatusPending,
		CreatedAt:    now,
	}
	if name != "" {
		user.Name = &name
	}

	if err := s.users.Create(ctx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)))

	created := sanitizeUser(&user)
	return &created, nil
}

// ParseAccessToken validates a bearer access token and returns its claims.
func (s *AuthService) ParseAccessToken(token string) (*security.AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := s.tokens.VerifyAccessToken(token, s.cfg.JWT.Leeway)
	if claims == nil {
		return nil, s.classifyVerifyFailure(token)
	}

	return claims, nil
}

// classifyVerifyFailure distinguishes an expired token from everything else
// so the transport layer can hint clients to refresh. Malformed tokens are
// never reported as expired.
func (s *AuthService) classifyVerifyFailure(token string) error {
	if _, err := s.tokens.TokenClaims(token); err != nil {
		return ErrInvalidToken
	}
	if s.tokens.IsTokenExpired(token) {
		return ErrExpiredToken
	}
	return ErrInvalidToken
}

func (s *AuthService) establishSession(ctx context.Context, user *domain.User, method string, input LoginInput) (*LoginResult, error) {
	refreshToken, refreshTTL, err := s.tokens.MintRefreshToken(user.ID, input.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}

	jti := s.tokens.ExtractJTI(refreshToken)
	if jti == "" {
		return nil, fmt.Errorf("minted refresh token has no jti")
	}

	var deviceHash *string
	if fp := security.FingerprintDevice(input.UserAgent); fp != "" {
		deviceHash = &fp
	}
	var ipCIDR *string
	if cidr := ipToCIDR(input.IPAddress); cidr != "" {
		ipCIDR = &cidr
	}

	session, err := s.sessions.Establish(ctx, user.ID, jti, refreshTTL, deviceHash, ipCIDR)
	if err != nil {
		return nil, err
	}

	accessToken, accessTTL, err := s.tokens.MintAccessToken(user.ID, user.Email, user.Roles, session.ID)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record login time", zap.Error(err))
	}

	if s.events != nil {
		event := domain.LoginSucceededEvent{
			EventID:   uuid.NewString(),
			UserID:    user.ID,
			SessionID: session.ID,
			FamilyID:  session.FamilyID,
			Method:    method,
			IPAddress: ipCIDR,
			LoginAt:   now,
		}
		if err := s.events.PublishLoginSucceeded(ctx, event); err != nil {
			s.logger.Warn("Failed to publish login event", zap.Error(err))
		}
	}

	return &LoginResult{
		User:    sanitizeUser(user),
		Session: *session,
		Tokens: TokenPair{
			AccessToken:     accessToken,
			AccessTokenTTL:  accessTTL,
			RefreshToken:    refreshToken,
			RefreshTokenTTL: refreshTTL,
		},
	}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, identifier, ip, reason string) {
	s.abuse.RecordFailedLogin(ctx, identifier, ip)

	if s.events == nil {
		return
	}

	var ipAddr *string
	if cidr := ipToCIDR(ip); cidr != "" {
		ipAddr = &cidr
	}

	// Failed logins never carry a user id, only the identifier hash.
	event := domain.LoginFailedEvent{
		EventID:        uuid.NewString(),
		IdentifierHash: security.HashIdentifier(identifier),
		Reason:         reason,
		IPAddress:      ipAddr,
		FailedAt:       s.now().UTC(),
	}
	if err := s.events.PublishLoginFailed(ctx, event); err != nil {
		s.logger.Warn("Failed to publish login failure event", zap.Error(err))
	}
}

func sanitizeUser(user *domain.User) domain.User {
	sanitized := *user
	sanitized.PasswordHash = ""
	return sanitized
}

// ipToCIDR coarsens an address to /24 (IPv4) or /64 (IPv6) before storage so
// session rows never hold a full client IP.
func ipToCIDR(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}

	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return fmt.Sprintf("%s/24", masked)
	}

	masked := parsed.Mask(net.CIDRMask(64, 128))
	return fmt.Sprintf("%s/64", masked)
}
