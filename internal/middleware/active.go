package middleware

import (
	"net/http" // HTTP status codes

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// ActiveUserMiddleware rejects tokens of users suspended or deleted after the
// token was issued
func ActiveUserMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := UserID(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var user domain.User
		if err := db.WithContext(c.Request.Context()).Select("id", "status").First(&user, userID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if user.Status != domain.StatusActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
			return
		}
		c.Next()
	}
}
