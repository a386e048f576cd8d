package security

import (
	"testing"
	"time"
)

func newTestTokenManager(t *testing.T, now time.Time) *TokenManager {
	t.Helper()

	manager, err := NewTokenManager(TokenManagerOptions{
		Secret:        "unit-test-secret",
		Issuer:        "auth-service-test",
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		RememberMeTTL: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}

	return manager.WithClock(func() time.Time { return now })
}

func TestMintAndVerifyAccessToken(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, now)

	token, ttl, err := manager.MintAccessToken("user-1", "user@example.com", []string{"member", "member", ""}, "session-1")
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}
	if ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	claims := manager.VerifyAccessToken(token, 0)
	if claims == nil {
		t.Fatal("VerifyAccessToken returned nil for freshly minted token")
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("unexpected email claim: %s", claims.Email)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
	if claims.SessionID != "session-1" {
		t.Fatalf("unexpected session id: %s", claims.SessionID)
	}
	if claims.ID == "" {
		t.Fatal("expected non-empty jti")
	}
}

func TestVerifyAccessTokenExpiryAndLeeway(t *testing.T) {
	minted := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, minted)

	token, _, err := manager.MintAccessToken("user-1", "user@example.com", nil, "")
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	// 10 seconds past expiry: rejected without leeway, accepted with 30s leeway.
	expired := minted.Add(time.Hour + 10*time.Second)
	late := manager.WithClock(func() time.Time { return expired })

	if claims := late.VerifyAccessToken(token, 0); claims != nil {
		t.Fatal("expected nil claims for expired token without leeway")
	}
	if claims := late.VerifyAccessToken(token, 30*time.Second); claims == nil {
		t.Fatal("expected claims for expired token within leeway")
	}
	if !late.IsTokenExpired(token) {
		t.Fatal("IsTokenExpired should report true past exp")
	}
}

func TestVerifyAccessTokenRejectsTampering(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, now)

	token, _, err := manager.MintAccessToken("user-1", "user@example.com", nil, "")
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	if claims := manager.VerifyAccessToken(token+"x", 0); claims != nil {
		t.Fatal("expected nil claims for tampered signature")
	}
	if claims := manager.VerifyAccessToken("not-a-jwt", 0); claims != nil {
		t.Fatal("expected nil claims for malformed token")
	}

	other := newTestTokenManager(t, now)
	other.secret = []byte("different-secret")
	if claims := other.VerifyAccessToken(token, 0); claims != nil {
		t.Fatal("expected nil claims for wrong secret")
	}
}

func TestMintRefreshTokenTTLAndType(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, now)

	token, ttl, err := manager.MintRefreshToken("user-1", false)
	if err != nil {
		t.Fatalf("MintRefreshToken returned error: %v", err)
	}
	if ttl != 7*24*time.Hour {
		t.Fatalf("expected 7d ttl, got %s", ttl)
	}

	claims := manager.VerifyRefreshToken(token, 0)
	if claims == nil {
		t.Fatal("VerifyRefreshToken returned nil for freshly minted token")
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected user_id claim: %s", claims.UserID)
	}
	if claims.TokenType != refreshTokenType {
		t.Fatalf("unexpected token type: %s", claims.TokenType)
	}

	_, rememberTTL, err := manager.MintRefreshToken("user-1", true)
	if err != nil {
		t.Fatalf("MintRefreshToken remember-me returned error: %v", err)
	}
	if rememberTTL != 30*24*time.Hour {
		t.Fatalf("expected 30d remember-me ttl, got %s", rememberTTL)
	}
}

func TestVerifyRefreshTokenRejectsAccessToken(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, now)

	accessToken, _, err := manager.MintAccessToken("user-1", "user@example.com", nil, "")
	if err != nil {
		t.Fatalf("MintAccessToken returned error: %v", err)
	}

	if claims := manager.VerifyRefreshToken(accessToken, 0); claims != nil {
		t.Fatal("access token must not verify as refresh token")
	}
}

func TestUnverifiedExtractionHelpers(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	manager := newTestTokenManager(t, now)

	token, _, err := manager.MintRefreshToken("user-7", false)
	if err != nil {
		t.Fatalf("MintRefreshToken returned error: %v", err)
	}

	claims := manager.VerifyRefreshToken(token, 0)
	if claims == nil {
		t.Fatal("VerifyRefreshToken returned nil")
	}

	if got := manager.ExtractJTI(token); got != claims.ID {
		t.Fatalf("ExtractJTI mismatch: got %s want %s", got, claims.ID)
	}
	if got := manager.ExtractUserID(token); got != "user-7" {
		t.Fatalf("ExtractUserID mismatch: got %s", got)
	}
	if got := manager.ExtractJTI("garbage"); got != "" {
		t.Fatalf("expected empty jti for malformed token, got %q", got)
	}

	raw, err := manager.TokenClaims(token)
	if err != nil {
		t.Fatalf("TokenClaims returned error: %v", err)
	}
	if raw["type"] != refreshTokenType {
		t.Fatalf("unexpected type claim: %v", raw["type"])
	}
}
