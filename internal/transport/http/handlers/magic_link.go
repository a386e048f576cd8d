package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/usecase"
)

// MagicLinkHandler exposes passwordless sign-in endpoints.
type MagicLinkHandler struct {
	links *usecase.MagicLinkService
	auth  *usecase.AuthService
}

// NewMagicLinkHandler constructs MagicLinkHandler.
func NewMagicLinkHandler(links *usecase.MagicLinkService, auth *usecase.AuthService) *MagicLinkHandler {
	return &MagicLinkHandler{links: links, auth: auth}
}

// RegisterRoutes binds magic link routes, applying optional middleware ahead
// of the request handler.
func (h *MagicLinkHandler) RegisterRoutes(r *gin.RouterGroup, requestMiddlewares ...gin.HandlerFunc) {
	if len(requestMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, requestMiddlewares...)
		chain = append(chain, h.request)
		r.POST("/magic-link", chain...)
	} else {
		r.POST("/magic-link", h.request)
	}

	r.POST("/magic-link/consume", h.consume)
}

// Request godoc
// @Summary Request a sign-in link
// @Description Emails a single-use sign-in link. The response never reveals whether the address has an account.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body MagicLinkRequest true "Magic link request payload"
// @Success 202 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/magic-link [post]
func (h *MagicLinkHandler) request(c *gin.Context) {
	var req MagicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid magic link payload"))
		return
	}

	err := h.links.CreateAndSend(c.Request.Context(), strings.TrimSpace(req.Email), req.ReturnTo, c.ClientIP())
	if err != nil {
		var rateErr *usecase.RateLimitedError
		if errors.As(err, &rateErr) {
			respondRateLimited(c, rateErr)
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to process request"))
		return
	}

	// Identical answer whether or not an account exists for the address.
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the address is valid, a sign-in link is on its way"})
}

// Consume godoc
// @Summary Redeem a sign-in link
// @Description Consumes a single-use link token and establishes a session for the account.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body MagicLinkConsumeRequest true "Magic link consume payload"
// @Success 200 {object} TokenPairResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/magic-link/consume [post]
func (h *MagicLinkHandler) consume(c *gin.Context) {
	var req MagicLinkConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid magic link payload"))
		return
	}

	user, err := h.links.Consume(c.Request.Context(), strings.TrimSpace(req.Token), strings.TrimSpace(req.Email))
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrMagicLinkInvalid):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid sign-in link"))
		case errors.Is(err, usecase.ErrMagicLinkExpired):
			c.JSON(http.StatusGone, NewErrorResponse(c, "sign-in link expired"))
		case errors.Is(err, usecase.ErrMagicLinkAlreadyUsed):
			c.JSON(http.StatusConflict, NewErrorResponse(c, "sign-in link already used"))
		case errors.Is(err, usecase.ErrStorageUnavailable):
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "sign-in temporarily unavailable"))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to redeem link"))
		}
		return
	}

	result, err := h.auth.LoginWithMagicLink(c.Request.Context(), user, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, usecase.ErrInactiveAccount) {
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "account inactive"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to establish session"))
		return
	}

	c.JSON(http.StatusOK, TokenPairResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(result.Tokens.AccessTokenTTL.Seconds()),
		User:         newUserSummary(result.User),
		Session:      newSessionSummary(result.Session),
	})
}
