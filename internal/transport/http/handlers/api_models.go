package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Name          *string           `json:"name,omitempty"`
	Status        domain.UserStatus `json:"status"`
	Roles         []string          `json:"roles,omitempty"`
	EmailVerified bool              `json:"email_verified"`
}

// RegisterRequest defines the account signup payload.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
}

// RegisterResponse contains signup results.
type RegisterResponse struct {
	User    UserSummary `json:"user"`
	Message string      `json:"message,omitempty"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaToken string `json:"captcha_token"`
	RememberMe   bool   `json:"remember_me"`
}

// SessionSummary provides a compact view of session context in login responses.
type SessionSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastUsed  time.Time `json:"last_used"`
}

// TokenPairResponse describes the response for flows that mint tokens.
type TokenPairResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	CSRFToken    string         `json:"csrf_token,omitempty"`
	User         UserSummary    `json:"user"`
	Session      SessionSummary `json:"session"`
}

// CaptchaRequiredResponse signals that the login needs a captcha solution.
type CaptchaRequiredResponse struct {
	Error           string `json:"error"`
	CaptchaRequired bool   `json:"captcha_required"`
	TraceID         string `json:"trace_id,omitempty"`
}

// RefreshRequest represents the payload to refresh an access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// MagicLinkRequest defines the payload to request a sign-in link.
type MagicLinkRequest struct {
	Email    string `json:"email" binding:"required,email"`
	ReturnTo string `json:"return_to"`
}

// MagicLinkConsumeRequest carries the link token back for redemption.
type MagicLinkConsumeRequest struct {
	Token string `json:"token" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// CSRFTokenResponse returns a freshly derived double-submit token.
type CSRFTokenResponse struct {
	Token string `json:"token"`
}

// SessionPayload describes a session view in API responses.
type SessionPayload struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	DeviceHash   *string    `json:"device_hash,omitempty"`
	LastIPCIDR   *string    `json:"last_ip_cidr,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     time.Time  `json:"last_used"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason *string    `json:"revoke_reason,omitempty"`
	IsCurrent    bool       `json:"is_current,omitempty"`
}

// SessionListResponse wraps a list of sessions for a user.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// newUserSummary converts a domain user to a summary suitable for API responses.
func newUserSummary(user domain.User) UserSummary {
	summary := UserSummary{
		ID:            user.ID,
		Email:         user.Email,
		Status:        user.Status,
		EmailVerified: user.EmailVerified(),
	}

	if user.Name != nil {
		name := strings.TrimSpace(*user.Name)
		if name != "" {
			summary.Name = &name
		}
	}

	if len(user.Roles) > 0 {
		rolesCopy := make([]string, len(user.Roles))
		copy(rolesCopy, user.Roles)
		summary.Roles = rolesCopy
	}

	return summary
}

// newSessionPayload converts a domain session to an API session payload.
func newSessionPayload(session domain.Session) SessionPayload {
	payload := SessionPayload{
		ID:        session.ID,
		UserID:    session.UserID,
		CreatedAt: session.CreatedAt,
		LastUsed:  session.LastUsed,
		ExpiresAt: session.ExpiresAt,
	}

	if session.DeviceHash != nil {
		payload.DeviceHash = session.DeviceHash
	}
	if session.LastIPCIDR != nil {
		payload.LastIPCIDR = session.LastIPCIDR
	}
	if session.RevokedAt != nil {
		payload.RevokedAt = session.RevokedAt
	}
	if session.RevokeReason != nil {
		payload.RevokeReason = session.RevokeReason
	}

	return payload
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
		LastUsed:  session.LastUsed,
	}
}
