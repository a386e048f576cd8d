package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

const refreshTokenType = "refresh"

// AccessTokenClaims carries identity context for short-lived access tokens.
type AccessTokenClaims struct {
	Email     string   `json:"email"`
	Roles     []string `json:"roles,omitempty"`
	SessionID string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// RefreshTokenClaims is the minimal claim set for refresh tokens. The
// registered ID claim holds the rotation JTI the session store tracks.
type RefreshTokenClaims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager mints and verifies HS256 tokens with a single service secret.
// It performs no I/O; callers own persistence and revocation checks.
type TokenManager struct {
	secret        []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rememberMeTTL time.Duration
	now           func() time.Time
}

// TokenManagerOptions configures a TokenManager.
type TokenManagerOptions struct {
	Secret        string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
}

// NewTokenManager validates options and builds a TokenManager.
func NewTokenManager(opts TokenManagerOptions) (*TokenManager, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, fmt.Errorf("jwt: secret is required")
	}
	if strings.TrimSpace(opts.Issuer) == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}

	m := &TokenManager{
		secret:        []byte(opts.Secret),
		issuer:        opts.Issuer,
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		rememberMeTTL: opts.RememberMeTTL,
		now:           time.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = time.Hour
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = 7 * 24 * time.Hour
	}
	if m.rememberMeTTL <= 0 {
		m.rememberMeTTL = 30 * 24 * time.Hour
	}

	return m, nil
}

// WithClock allows injection of a custom clock (primarily for testing).
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// MintAccessToken signs a new access token and returns it with its TTL.
func (m *TokenManager) MintAccessToken(userID, email string, roles []string, sessionID string) (string, time.Duration, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", 0, fmt.Errorf("jwt: user id is required")
	}

	now := m.now().UTC()
	claims := &AccessTokenClaims{
		Email:     email,
		Roles:     normalizeRoles(roles),
		SessionID: strings.TrimSpace(sessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("jwt: sign access token: %w", err)
	}

	return signed, m.accessTTL, nil
}

// MintRefreshToken signs a new refresh token. The remember-me TTL applies when
// requested; the JTI rides in the registered ID claim for rotation tracking.
func (m *TokenManager) MintRefreshToken(userID string, rememberMe bool) (string, time.Duration, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", 0, fmt.Errorf("jwt: user id is required")
	}

	ttl := m.refreshTTL
	if rememberMe {
		ttl = m.rememberMeTTL
	}

	now := m.now().UTC()
	claims := &RefreshTokenClaims{
		UserID:    userID,
		TokenType: refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("jwt: sign refresh token: %w", err)
	}

	return signed, ttl, nil
}

// VerifyAccessToken validates signature, issuer, and expiry within the given
// clock-skew leeway. Any failure yields nil, never a partially trusted claim
// set.
func (m *TokenManager) VerifyAccessToken(token string, leeway time.Duration) *AccessTokenClaims {
	claims := &AccessTokenClaims{}
	if !m.verify(token, leeway, claims) {
		return nil
	}
	return claims
}

// VerifyRefreshToken validates a refresh token the same way and additionally
// requires the refresh token type marker. Returns nil on any failure.
func (m *TokenManager) VerifyRefreshToken(token string, leeway time.Duration) *RefreshTokenClaims {
	claims := &RefreshTokenClaims{}
	if !m.verify(token, leeway, claims) {
		return nil
	}
	if claims.TokenType != refreshTokenType {
		return nil
	}
	return claims
}

func (m *TokenManager) verify(token string, leeway time.Duration, claims jwt.Claims) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
		jwt.WithExpirationRequired(),
	}
	if leeway > 0 {
		opts = append(opts, jwt.WithLeeway(leeway))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || parsed == nil || !parsed.Valid {
		return false
	}

	return true
}

// ExtractJTI reads the jti claim without verifying the signature. Callers must
// treat the result as untrusted input.
func (m *TokenManager) ExtractJTI(token string) string {
	claims := m.unverifiedClaims(token)
	if claims == nil {
		return ""
	}
	jti, _ := claims["jti"].(string)
	return jti
}

// ExtractUserID reads the subject claim without verifying the signature.
func (m *TokenManager) ExtractUserID(token string) string {
	claims := m.unverifiedClaims(token)
	if claims == nil {
		return ""
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	uid, _ := claims["user_id"].(string)
	return uid
}

// IsTokenExpired reports whether the exp claim is in the past. Malformed
// tokens and tokens without exp count as expired.
func (m *TokenManager) IsTokenExpired(token string) bool {
	claims := m.unverifiedClaims(token)
	if claims == nil {
		return true
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return true
	}
	return m.now().UTC().After(time.Unix(int64(exp), 0))
}

// TokenClaims returns the raw claim map from an unverified parse, for
// diagnostics only.
func (m *TokenManager) TokenClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}
	return claims, nil
}

func (m *TokenManager) unverifiedClaims(token string) jwt.MapClaims {
	claims, err := m.TokenClaims(token)
	if err != nil {
		return nil
	}
	return claims
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
