package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/security"
	"github.com/communityos/auth-service/internal/transport/http/middleware"
)

// CSRFHandler issues double-submit tokens for authenticated sessions.
type CSRFHandler struct {
	csrf   *security.CSRFManager
	cookie config.CSRFSettings
	isDev  bool
}

// NewCSRFHandler constructs CSRFHandler.
func NewCSRFHandler(csrf *security.CSRFManager, cookie config.CSRFSettings, isDev bool) *CSRFHandler {
	return &CSRFHandler{csrf: csrf, cookie: cookie, isDev: isDev}
}

// Token godoc
// @Summary Issue a CSRF token
// @Description Derives a double-submit token bound to the caller's session and User-Agent.
// @Tags Authentication
// @Security Bearer
// @Produce json
// @Success 200 {object} CSRFTokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/csrf [get]
func (h *CSRFHandler) Token(c *gin.Context) {
	claims := middleware.GetAccessTokenClaims(c)
	if claims == nil || strings.TrimSpace(claims.SessionID) == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	token := h.csrf.GenerateToken(claims.SessionID, c.Request.UserAgent())
	writeCSRFCookie(c, h.cookie, token, h.isDev)

	c.JSON(http.StatusOK, CSRFTokenResponse{Token: token})
}

// writeCSRFCookie mirrors the token into a cookie readable by browser clients.
// The cookie is deliberately not HttpOnly: the double-submit scheme relies on
// script echoing the value back in the X-CSRF-Token header.
func writeCSRFCookie(c *gin.Context, cfg config.CSRFSettings, token string, isDev bool) {
	name := cfg.CookieName
	if name == "" {
		name = middleware.CSRFCookieName
	}

	maxAge := int(cfg.CookieMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int(time.Hour / time.Second)
	}

	cookie := &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
	}

	if isDev {
		cookie.SameSite = http.SameSiteLaxMode
	} else {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Domain = cfg.CookieDomain
	}

	http.SetCookie(c.Writer, cookie)
}
