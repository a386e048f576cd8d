package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/security"
	"github.com/communityos/auth-service/internal/transport/http/middleware"
	"github.com/communityos/auth-service/internal/usecase"
)

const (
	loginRateLimitProblemType  = "https://auth.communityos.example.com/errors/rate-limit-exceeded"
	loginRateLimitProblemTitle = "Rate Limit Exceeded"
)

// AuthHandler exposes registration, login, refresh and logout endpoints.
type AuthHandler struct {
	auth   *usecase.AuthService
	csrf   *security.CSRFManager
	cookie config.CSRFSettings
	isDev  bool
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, csrf *security.CSRFManager, cookie config.CSRFSettings, isDev bool) *AuthHandler {
	return &AuthHandler{auth: auth, csrf: csrf, cookie: cookie, isDev: isDev}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of the login handler.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	r.POST("/register", h.register)

	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)
	} else {
		r.POST("/login", h.login)
	}

	r.POST("/refresh", h.refresh)
	r.POST("/logout", middleware.RequireAuth(h.auth), h.logout)
}

// Register godoc
// @Summary Register a new user account
// @Description Creates a new account with the supplied email and password.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	user, err := h.auth.Register(c.Request.Context(), usecase.RegisterInput{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		var policyErr *security.PasswordValidationError
		switch {
		case errors.As(err, &policyErr):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Error()))
		case errors.Is(err, usecase.ErrEmailAlreadyRegistered):
			c.JSON(http.StatusConflict, NewErrorResponse(c, "email already registered"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to register user"))
		}
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		User:    newUserSummary(*user),
		Message: "verification link sent",
	})
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Validates credentials and returns a token pair plus session context.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} TokenPairResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} CaptchaRequiredResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Identifier:   strings.TrimSpace(req.Email),
		Password:     req.Password,
		CaptchaToken: strings.TrimSpace(req.CaptchaToken),
		RememberMe:   req.RememberMe,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	h.respondTokenPair(c, result, true)
}

// Refresh godoc
// @Summary Refresh an access token
// @Description Rotates the refresh token and issues a new access/refresh pair.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh payload"
// @Success 200 {object} TokenPairResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrExpiredToken):
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "refresh token expired"))
		case errors.Is(err, usecase.ErrInvalidToken),
			errors.Is(err, usecase.ErrReplayDetected):
			// Replay is indistinguishable from any other bad token on the wire.
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid refresh token"))
		case errors.Is(err, usecase.ErrInactiveAccount):
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "account inactive"))
		case errors.Is(err, usecase.ErrStorageUnavailable):
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "token service unavailable"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to refresh token"))
		}
		return
	}

	h.respondTokenPair(c, result, false)
}

// Logout godoc
// @Summary Logout the current session
// @Description Revokes the caller's session family using the access token's session context.
// @Tags Authentication
// @Security Bearer
// @Produce json
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	claims := middleware.GetAccessTokenClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(claims.SessionID)
	if sessionID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.auth.Logout(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, usecase.ErrSessionNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) respondTokenPair(c *gin.Context, result *usecase.LoginResult, withCSRF bool) {
	response := TokenPairResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(result.Tokens.AccessTokenTTL.Seconds()),
		User:         newUserSummary(result.User),
		Session:      newSessionSummary(result.Session),
	}

	if withCSRF && h.csrf != nil {
		token := h.csrf.GenerateToken(result.Session.ID, c.Request.UserAgent())
		response.CSRFToken = token
		writeCSRFCookie(c, h.cookie, token, h.isDev)
	}

	c.JSON(http.StatusOK, response)
}

func (h *AuthHandler) respondLoginError(c *gin.Context, err error) {
	var rateErr *usecase.RateLimitedError
	if errors.As(err, &rateErr) {
		respondRateLimited(c, rateErr)
		return
	}

	switch {
	case errors.Is(err, usecase.ErrCaptchaRequired):
		c.JSON(http.StatusForbidden, CaptchaRequiredResponse{
			Error:           "captcha verification required",
			CaptchaRequired: true,
			TraceID:         middleware.GetTraceID(c),
		})
	case errors.Is(err, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrInactiveAccount):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account inactive"))
	case errors.Is(err, usecase.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "authentication temporarily unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
	}
}

func respondRateLimited(c *gin.Context, rateErr *usecase.RateLimitedError) {
	retryAfter := int(rateErr.RetryAfter / time.Second)
	if rateErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	detail := "Too many attempts. Try again later."
	if rateErr.RetryAfter > 0 {
		detail = fmt.Sprintf("Too many attempts. Try again in %d seconds.", retryAfter)
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	if retryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	}

	c.JSON(http.StatusTooManyRequests, middleware.ProblemDetails{
		Type:       loginRateLimitProblemType,
		Title:      loginRateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	})
}
