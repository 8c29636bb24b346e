package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"mlm_ledger/internal/utils" // JWT utility functions

	"github.com/gin-gonic/gin" // Gin web framework
)

// Context keys set by the auth middleware
const (
	CtxUserID = "userID"
	CtxRole   = "role"
)

// JWTAuthMiddleware validates JWT tokens and extracts user information
func JWTAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization") // Get Authorization header
		// Check if the Authorization header is present and properly formatted
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ") // Extract the token string and parse it
		claims, err := utils.ParseJWT(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(CtxUserID, claims.UserID) // Store userID in context
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// UserID returns the authenticated user id
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}
