package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ruraledu/backend/internal/auth"
	"github.com/ruraledu/backend/internal/config"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifySessionToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt        TokenVerifier
	transport  string
	cookieName string
}

func NewAuthMiddleware(jwt TokenVerifier, cfg config.Config) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:        jwt,
		transport:  cfg.TokenTransport,
		cookieName: cfg.SessionCookieName,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := m.extractToken(c)

		if raw == "" {
			abortUnauthorized(c, "Missing or invalid session credential")
			return
		}

		claims, err := m.jwt.VerifySessionToken(raw)

		// one answer for malformed, expired and forged tokens alike
		if err != nil {
			abortUnauthorized(c, "Invalid or expired session credential")
			return
		}

		// Stash useful bits of identity on the context
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxEmail, claims.Email)
		c.Set(CtxRole, claims.Role)

		c.Next()
	}
}

func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	if m.transport == config.TransportCookie {
		raw, err := c.Cookie(m.cookieName)

		if err != nil {
			return ""
		}

		return raw
	}

	authHeader := c.GetHeader("Authorization")

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}

	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}

// Optional helpers so handlers don’t need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func RoleFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
