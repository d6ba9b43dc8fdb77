package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxEmailKey  = "authEmail"
	CtxRoleKey   = "authRole"
)

// Auth enforces bearer token authentication using the supplied token service.
func Auth(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := tokens.VerifyAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxEmailKey, claims.Email)
		c.Set(CtxRoleKey, claims.Role)

		c.Next()
	}
}

// ClaimsFromContext returns the verified claims set by Auth, if present.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(CtxClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// RoleFromContext returns the caller's role set by Auth.
func RoleFromContext(c *gin.Context) (models.Role, bool) {
	value, exists := c.Get(CtxRoleKey)
	if !exists {
		return "", false
	}
	role, ok := value.(models.Role)
	return role, ok
}
