package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/communityos/auth-service/internal/core/domain"
	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/repository"
)

type stubUserRepository struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	byEmail map[string]*domain.User

	createErr error
	logins    []string
}

var _ port.UserRepository = (*stubUserRepository)(nil)

func newStubUserRepository() *stubUserRepository {
	return &stubUserRepository{
		users:   make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

func (s *stubUserRepository) add(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = &stored
}

func (s *stubUserRepository) Create(_ context.Context, user domain.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.add(user)
	return nil
}

func (s *stubUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *stubUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *stubUserRepository) FindOrCreateByEmail(_ context.Context, email string, at time.Time) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.byEmail[email]; ok {
		copied := *user
		return &copied, nil
	}

	user := &domain.User{
		ID:        "user-" + email,
		Email:     email,
		Status:    domain.UserStatusPending,
		CreatedAt: at,
	}
	s.users[user.ID] = user
	s.byEmail[email] = user
	copied := *user
	return &copied, nil
}

func (s *stubUserRepository) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &at
		if user.Status == domain.UserStatusPending {
			user.Status = domain.UserStatusActive
		}
	}
	return nil
}

func (s *stubUserRepository) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.LastLogin = &at
	s.logins = append(s.logins, id)
	return nil
}

type stubSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

var _ port.SessionRepository = (*stubSessionRepository)(nil)

func newStubSessionRepository() *stubSessionRepository {
	return &stubSessionRepository{sessions: make(map[string]*domain.Session)}
}

func (s *stubSessionRepository) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := session
	s.sessions[session.ID] = &stored
	return nil
}

func (s *stubSessionRepository) GetByID(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *stubSessionRepository) GetByRefreshJTI(_ context.Context, jti string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.CurrentJTI == jti {
			copied := *session
			return &copied, nil
		}
	}
	for _, session := range s.sessions {
		if session.ReusedJTIOf != nil && *session.ReusedJTIOf == jti {
			copied := *session
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubSessionRepository) ListActiveByUser(_ context.Context, userID string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []domain.Session
	now := time.Now().UTC()
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive(now) {
			result = append(result, *session)
		}
	}
	return result, nil
}

func (s *stubSessionRepository) RotateCurrentJTI(_ context.Context, familyID, oldJTI, newJTI string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.FamilyID == familyID && session.CurrentJTI == oldJTI && session.IsActive(at) {
			session.Rotate(newJTI, at)
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSessionRepository) IsReplayedJTI(_ context.Context, familyID, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.FamilyID == familyID && session.ReusedJTIOf != nil && *session.ReusedJTIOf == jti {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubSessionRepository) Revoke(_ context.Context, sessionID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || !session.Revoke(at, reason) {
		return repository.ErrNotFound
	}
	return nil
}

func (s *stubSessionRepository) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for _, session := range s.sessions {
		if session.FamilyID == familyID && session.Revoke(at, reason) {
			revoked++
		}
	}
	return revoked, nil
}

func (s *stubSessionRepository) CleanupExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

type stubMagicLinkRepository struct {
	mu    sync.Mutex
	links map[string]*domain.MagicLink
}

var _ port.MagicLinkRepository = (*stubMagicLinkRepository)(nil)

func newStubMagicLinkRepository() *stubMagicLinkRepository {
	return &stubMagicLinkRepository{links: make(map[string]*domain.MagicLink)}
}

func (s *stubMagicLinkRepository) Create(_ context.Context, link domain.MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := link
	s.links[link.ID] = &stored
	return nil
}

func (s *stubMagicLinkRepository) GetByID(_ context.Context, id string) (*domain.MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

func (s *stubMagicLinkRepository) Consume(_ context.Context, id, tokenHash string, at time.Time) (*domain.MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if link.TokenHash != tokenHash {
		return nil, repository.ErrNotFound
	}
	if link.UsedAt != nil || link.InvalidatedAt != nil {
		return nil, repository.ErrAlreadyConsumed
	}
	if !at.Before(link.ExpiresAt) {
		return nil, repository.ErrExpired
	}

	usedAt := at
	link.UsedAt = &usedAt
	copied := *link
	return &copied, nil
}

func (s *stubMagicLinkRepository) InvalidatePendingForEmail(_ context.Context, email, exceptID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invalidated := 0
	for _, link := range s.links {
		if link.Email == email && link.ID != exceptID && link.UsedAt == nil && link.InvalidatedAt == nil {
			stamp := at
			link.InvalidatedAt = &stamp
			invalidated++
		}
	}
	return invalidated, nil
}

type stubAbuseStore struct {
	mu           sync.Mutex
	failures     map[string]int64
	captcha      map[string]bool
	lastAttempt  map[string]time.Time
	unavailable  error
	resetCalls   int
	failureCalls int
}

var _ port.AbuseStore = (*stubAbuseStore)(nil)

func newStubAbuseStore() *stubAbuseStore {
	return &stubAbuseStore{
		failures:    make(map[string]int64),
		captcha:     make(map[string]bool),
		lastAttempt: make(map[string]time.Time),
	}
}

func (s *stubAbuseStore) IncrementFailures(_ context.Context, hash string, _ time.Duration) (int64, error) {
	if s.unavailable != nil {
		return 0, s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[hash]++
	s.failureCalls++
	return s.failures[hash], nil
}

func (s *stubAbuseStore) FailureCount(_ context.Context, hash string) (int64, error) {
	if s.unavailable != nil {
		return 0, s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[hash], nil
}

func (s *stubAbuseStore) SetCaptchaRequired(_ context.Context, hash string, _ time.Duration) error {
	if s.unavailable != nil {
		return s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captcha[hash] = true
	return nil
}

func (s *stubAbuseStore) CaptchaRequired(_ context.Context, hash string) (bool, error) {
	if s.unavailable != nil {
		return false, s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captcha[hash], nil
}

func (s *stubAbuseStore) TouchLastAttempt(_ context.Context, hash string, at time.Time, _ time.Duration) error {
	if s.unavailable != nil {
		return s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt[hash] = at
	return nil
}

func (s *stubAbuseStore) LastAttempt(_ context.Context, hash string) (time.Time, bool, error) {
	if s.unavailable != nil {
		return time.Time{}, false, s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastAttempt[hash]
	return at, ok, nil
}

func (s *stubAbuseStore) Reset(_ context.Context, hash string) error {
	if s.unavailable != nil {
		return s.unavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, hash)
	delete(s.captcha, hash)
	delete(s.lastAttempt, hash)
	s.resetCalls++
	return nil
}

type stubRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

var _ port.RateLimitStore = (*stubRateLimitStore)(nil)

func newStubRateLimitStore() *stubRateLimitStore {
	return &stubRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *stubRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []time.Time
	for _, at := range s.attempts[identifier] {
		if !at.Before(reference.Add(-window)) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *stubRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, at := range s.attempts[identifier] {
		if !at.Before(reference.Add(-window)) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

func (s *stubRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *stubRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.Before(reference.Add(-window)) || at.After(reference) {
			continue
		}
		if !found || at.Before(oldest) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

type stubEventPublisher struct {
	mu                sync.Mutex
	loginSucceeded    []domain.LoginSucceededEvent
	loginFailed       []domain.LoginFailedEvent
	sessionRevoked    []domain.SessionRevokedEvent
	replayDetected    []domain.ReplayDetectedEvent
	magicLinkConsumed []domain.MagicLinkConsumedEvent
}

var _ port.SecurityEventPublisher = (*stubEventPublisher)(nil)

func (s *stubEventPublisher) PublishLoginSucceeded(_ context.Context, event domain.LoginSucceededEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginSucceeded = append(s.loginSucceeded, event)
	return nil
}

func (s *stubEventPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginFailed = append(s.loginFailed, event)
	return nil
}

func (s *stubEventPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRevoked = append(s.sessionRevoked, event)
	return nil
}

func (s *stubEventPublisher) PublishReplayDetected(_ context.Context, event domain.ReplayDetectedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replayDetected = append(s.replayDetected, event)
	return nil
}

func (s *stubEventPublisher) PublishMagicLinkConsumed(_ context.Context, event domain.MagicLinkConsumedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.magicLinkConsumed = append(s.magicLinkConsumed, event)
	return nil
}

type stubEmailSender struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentEmail
}

type sentEmail struct {
	to       string
	subject  string
	htmlBody string
	textBody string
}

var _ port.EmailSender = (*stubEmailSender)(nil)

func (s *stubEmailSender) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{to: to, subject: subject, htmlBody: htmlBody, textBody: textBody})
	return nil
}

type stubCaptchaVerifier struct {
	enabled bool
	verdict bool
	err     error
	tokens  []string
}

var _ port.CaptchaVerifier = (*stubCaptchaVerifier)(nil)

func (s *stubCaptchaVerifier) Verify(_ context.Context, responseToken, _ string) (bool, error) {
	s.tokens = append(s.tokens, responseToken)
	if s.err != nil {
		return false, s.err
	}
	return s.verdict, nil
}

func (s *stubCaptchaVerifier) Enabled() bool { return s.enabled }
