package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"regexp"   // Regular expressions
	"strings"  // String manipulation

	"mlm_ledger/internal/domain"   // Importing domain models
	"mlm_ledger/internal/referral" // Sponsor lookup and code generation
	"mlm_ledger/internal/utils"    // Utility functions

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"golang.org/x/crypto/bcrypt"   // Password hashing
	"gorm.io/gorm"                 // GORM ORM library
)

// RegisterRequest is the sign-up body
type RegisterRequest struct {
	Username     string `json:"username" binding:"required"` // Username must be provided
	Password     string `json:"password" binding:"required"` // Password must be provided
	ReferralCode string `json:"referral_code"`               // Sponsor's code, optional
}

// LoginRequest is the sign-in body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries the issued token
type AuthResponse struct {
	Token string `json:"token"` // JWT token
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z]+$`)

// isValidUsername checks if the username contains only alphabetic characters
func isValidUsername(username string) bool {
	return len(username) <= 64 && usernamePattern.MatchString(username)
}

// isValidPassword checks if the password length is between 8 and 15 characters
func isValidPassword(password string) bool {
	return len(password) >= 8 && len(password) <= 15
}

// RegisterHandler creates a user, optionally under a sponsor
func RegisterHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		if !isValidUsername(req.Username) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be alphabetic only"})
			return
		}
		if !isValidPassword(req.Password) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be 8-15 characters"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}
		ctx := c.Request.Context()
		// Username is stored lowercase to keep it unique regardless of case
		user := domain.User{Username: strings.ToLower(req.Username), Password: string(hash)}
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if code := strings.ToUpper(strings.TrimSpace(req.ReferralCode)); code != "" {
				sponsor, err := referral.ResolveSponsor(ctx, tx, code)
				if err != nil {
					return err
				}
				user.ReferredBy = &sponsor.ReferralCode
			}
			code, err := referral.UniqueCode(ctx, tx)
			if err != nil {
				return err
			}
			user.ReferralCode = code
			return tx.Create(&user).Error
		})
		switch {
		case errors.Is(err, referral.ErrUnknownSponsor):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown referral code"})
			return
		case errors.Is(err, gorm.ErrDuplicatedKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{"username": user.Username, "error": err.Error()}).Error("Registration failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
			return
		}
		// The new member shows up in the network of every ancestor
		if chain, err := referral.Upline(ctx, db, &user, domain.MaxLevels, false); err == nil {
			ids := make([]uint, 0, len(chain.Ancestors))
			for _, a := range chain.Ancestors {
				ids = append(ids, a.User.ID)
			}
			utils.InvalidateNetworks(ctx, rdb, ids)
		}
		logrus.WithFields(logrus.Fields{
			"user_id":       user.ID,
			"username":      user.Username,
			"referral_code": user.ReferralCode,
			"referred_by":   req.ReferralCode,
		}).Info("User registered")
		c.JSON(http.StatusCreated, gin.H{
			"message":       "User registered successfully",
			"referral_code": user.ReferralCode,
		})
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(db *gorm.DB, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		var user domain.User
		if err := db.WithContext(c.Request.Context()).Where("username = ?", strings.ToLower(req.Username)).First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		if user.Status == domain.StatusSuspended {
			c.JSON(http.StatusForbidden, gin.H{"error": "Account suspended"})
			return
		}
		token, err := utils.GenerateJWT(user.ID, user.Role, jwtSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Token: token})
	}
}
