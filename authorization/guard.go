package authorization

import (
	"fmt"
	"net/http"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard wraps the JWT middleware with role-aware helpers.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard builds a guard helper around the given JWT middleware.
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard returns the guard instance shared across modules.
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated ensures the request carries a valid JWT.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// OptionalAuthenticated parses a JWT when one is present but never rejects
// the request. Handlers behind it see claims for logged-in callers and an
// empty claim set for anonymous ones.
func (g *Guard) OptionalAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return func(c *gin.Context) {
		if claims, err := g.jwt.GetClaimsFromJWT(c); err == nil {
			c.Set("JWT_PAYLOAD", claims)
		}
		c.Next()
	}
}

// RequireAnyRole requires the caller's role claim to match one of the given roles.
func (g *Guard) RequireAnyRole(roles ...string) gin.HandlerFunc {
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}

	if len(normalized) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		claims := jwt.ExtractClaims(c)
		if len(claims) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		current := strings.ToLower(strings.TrimSpace(RoleFromClaims(claims)))
		for _, expected := range normalized {
			if current == expected {
				c.Next()
				return
			}
		}

		message := "insufficient privileges"
		if len(normalized) == 1 {
			message = fmt.Sprintf("%s role required", normalized[0])
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
	}
}

// RequireRole restricts the request to callers holding the given role.
func (g *Guard) RequireRole(role string) gin.HandlerFunc {
	return g.RequireAnyRole(role)
}

// RoleFromClaims returns the role claim, defaulting to "user" when absent.
func RoleFromClaims(claims jwt.MapClaims) string {
	if claims == nil {
		return RoleUser
	}
	if role, ok := claims["role"].(string); ok && strings.TrimSpace(role) != "" {
		return role
	}
	return RoleUser
}

// UserIDFromClaims returns the caller's identity as the canonical string form
// used for ownership comparisons.
func UserIDFromClaims(claims jwt.MapClaims) string {
	id := extractUserID(claims)
	if id == 0 {
		return ""
	}
	return fmt.Sprint(id)
}
