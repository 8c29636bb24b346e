package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"mlm_ledger/internal/commission" // Rate table
	"mlm_ledger/internal/domain"     // Importing domain models
	"mlm_ledger/internal/middleware" // Authenticated user lookup
	"mlm_ledger/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// PublicRate is the explainer-page view of one level
type PublicRate struct {
	Level       int             `json:"level"`
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description"`
}

// CommissionRatesHandler returns the active rate table, level ascending
func CommissionRatesHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var rates []PublicRate
		if found, err := utils.GetCache(ctx, rdb, utils.RatesCacheKey, &rates); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"rates": rates, "currency": domain.Currency, "cached": true})
			return
		}
		rows, err := commission.ActiveTable(ctx, db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rates"})
			return
		}
		rates = make([]PublicRate, 0, len(rows))
		for _, r := range rows {
			rates = append(rates, PublicRate{Level: r.Level, Rate: r.Rate, Description: r.Description})
		}
		_ = utils.SetCache(ctx, rdb, utils.RatesCacheKey, rates, utils.CacheTTL)
		c.JSON(http.StatusOK, gin.H{"rates": rates, "currency": domain.Currency, "cached": false})
	}
}

// ListCommissionSettingsHandler returns every level, inactive ones included
func ListCommissionSettingsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := commission.AllSettings(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"settings": rows})
	}
}

// UpdateSettingRequest is an admin edit of one level
type UpdateSettingRequest struct {
	Rate        *decimal.Decimal `json:"rate"`
	IsActive    *bool            `json:"is_active"`
	Description string           `json:"description" binding:"max=255"`
}

// UpdateCommissionSettingHandler edits one level and drops the public cache
func UpdateCommissionSettingHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		level, err := strconv.Atoi(c.Param("level"))
		if err != nil || level < 1 || level > domain.MaxLevels {
			c.JSON(http.StatusBadRequest, gin.H{"error": commission.ErrInvalidLevel.Error()})
			return
		}
		var req UpdateSettingRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Rate == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		ctx := c.Request.Context()
		row, err := commission.UpdateSetting(ctx, db, level, commission.SettingInput{
			Rate:        *req.Rate,
			IsActive:    active,
			Description: req.Description,
		})
		switch {
		case errors.Is(err, commission.ErrInvalidRate), errors.Is(err, commission.ErrInvalidLevel):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update setting"})
			return
		}
		_ = utils.DeleteCache(ctx, rdb, utils.RatesCacheKey)
		adminID, _ := middleware.UserID(c)
		logrus.WithFields(logrus.Fields{
			"admin_id":  adminID,
			"level":     row.Level,
			"rate":      row.Rate.String(),
			"is_active": row.IsActive,
		}).Info("Commission setting updated")
		c.JSON(http.StatusOK, gin.H{"setting": row})
	}
}
