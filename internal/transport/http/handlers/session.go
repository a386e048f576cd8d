package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/transport/http/middleware"
	"github.com/communityos/auth-service/internal/usecase"
)

// SessionHandler exposes endpoints for inspecting and revoking sessions.
type SessionHandler struct {
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds session management routes to the provided router group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListSessions)
	r.DELETE("/:session_id", h.RevokeSession)
}

// ListSessions godoc
// @Summary List active sessions for the authenticated user
// @Description Returns all non-revoked, non-expired sessions, flagging the one backing the current access token.
// @Tags Sessions
// @Security Bearer
// @Produce json
// @Success 200 {object} SessionListResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessions, err := h.sessions.ListActive(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	currentSessionID := ""
	if claims := middleware.GetAccessTokenClaims(c); claims != nil {
		currentSessionID = strings.TrimSpace(claims.SessionID)
	}

	response := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload := newSessionPayload(session)
		if currentSessionID != "" && session.ID == currentSessionID {
			payload.IsCurrent = true
		}
		response = append(response, payload)
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: response, Total: len(response)})
}

// RevokeSession godoc
// @Summary Revoke a specific session
// @Description Revokes a session family owned by the authenticated user.
// @Tags Sessions
// @Security Bearer
// @Produce json
// @Param session_id path string true "Session identifier"
// @Param reason query string false "Optional revocation reason"
// @Success 204 "Session revoked"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/sessions/{session_id} [delete]
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id is required"))
		return
	}

	reason := strings.TrimSpace(c.Query("reason"))
	if err := h.sessions.RevokeSession(c.Request.Context(), userID, sessionID, reason); err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrSessionForbidden, Status: http.StatusForbidden, Message: "session not owned by user"},
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	c.Status(http.StatusNoContent)
}
