package usecase

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/security"
)

var testEpoch = time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{
			Name: "auth-service",
			Env:  "test",
		},
		JWT: config.JWTSettings{
			Secret:             "test-jwt-secret",
			Issuer:             "auth-service",
			AccessTokenTTL:     time.Hour,
			RefreshTokenTTL:    7 * 24 * time.Hour,
			RememberMeTokenTTL: 30 * 24 * time.Hour,
			Leeway:             30 * time.Second,
		},
		MagicLink: config.MagicLinkSettings{
			Secret:         "test-magic-link-secret",
			BaseURL:        "https://app.example.com/auth/magic",
			TTL:            20 * time.Minute,
			PerEmailLimit:  5,
			PerIPLimit:     20,
			IssuanceWindow: time.Hour,
		},
		Abuse: config.AbuseSettings{
			CaptchaThreshold: 3,
			BlockThreshold:   5,
			FailureWindow:    time.Hour,
		},
		Sessions: config.SessionSettings{
			ExpiredRetention: 30 * 24 * time.Hour,
		},
	}
}

func newTestTokenManager(t *testing.T, now func() time.Time) *security.TokenManager {
	t.Helper()

	cfg := newTestConfig()
	manager, err := security.NewTokenManager(security.TokenManagerOptions{
		Secret:        cfg.JWT.Secret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTokenTTL,
		RefreshTTL:    cfg.JWT.RefreshTokenTTL,
		RememberMeTTL: cfg.JWT.RememberMeTokenTTL,
	})
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}

	return manager.WithClock(now)
}

type testEnv struct {
	cfg      *config.AppConfig
	users    *stubUserRepository
	sessions *stubSessionRepository
	links    *stubMagicLinkRepository
	abuse    *stubAbuseStore
	limits   *stubRateLimitStore
	events   *stubEventPublisher
	sender   *stubEmailSender
	captcha  *stubCaptchaVerifier

	nowAt time.Time
	clock func() time.Time

	tokens       *security.TokenManager
	abuseSvc     *AbuseControlService
	sessionSvc   *SessionService
	authSvc      *AuthService
	magicLinkSvc *MagicLinkService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		cfg:      newTestConfig(),
		users:    newStubUserRepository(),
		sessions: newStubSessionRepository(),
		links:    newStubMagicLinkRepository(),
		abuse:    newStubAbuseStore(),
		limits:   newStubRateLimitStore(),
		events:   &stubEventPublisher{},
		sender:   &stubEmailSender{},
		captcha:  &stubCaptchaVerifier{enabled: true, verdict: true},
	}

	env.nowAt = testEpoch
	env.clock = func() time.Time { return env.nowAt }

	log := zaptest.NewLogger(t)

	env.tokens = newTestTokenManager(t, env.clock)
	env.abuseSvc = NewAbuseControlService(env.cfg.Abuse, env.abuse, env.captcha, log).WithClock(env.clock)
	env.sessionSvc = NewSessionService(env.cfg, env.sessions, env.events, log).WithClock(env.clock)
	env.authSvc = NewAuthService(env.cfg, env.users, env.tokens, env.sessionSvc, env.abuseSvc, env.events, log).WithClock(env.clock)
	env.magicLinkSvc = NewMagicLinkService(env.cfg, env.links, env.users, env.limits, env.sender, env.events, log).WithClock(env.clock)

	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.nowAt = e.nowAt.Add(d)
}
