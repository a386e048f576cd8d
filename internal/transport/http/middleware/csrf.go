package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/infra/security"
)

// CSRFHeader carries the double-submit token on mutating requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFCookieName is the cookie the token is mirrored into for browser clients.
const CSRFCookieName = "csrf_token"

// RequireCSRF validates the double-submit token on mutating methods. It must
// run after RequireAuth: the token is bound to the session ID carried by the
// access token claims and to the caller's User-Agent.
func RequireCSRF(manager *security.CSRFManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		claims := GetAccessTokenClaims(c)
		if claims == nil || claims.SessionID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "csrf validation requires an authenticated session"))
			return
		}

		// The header is mandatory: the cookie travels automatically with the
		// request, so it can never stand in for the submitted half.
		token := c.GetHeader(CSRFHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "missing csrf token"))
			return
		}

		if cookie, err := c.Cookie(CSRFCookieName); err == nil && cookie != token {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "invalid csrf token"))
			return
		}

		if !manager.ValidateToken(token, claims.SessionID, c.Request.UserAgent()) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "invalid csrf token"))
			return
		}

		c.Next()
	}
}
