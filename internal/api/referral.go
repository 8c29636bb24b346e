package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"time"     // Join timestamps

	"mlm_ledger/internal/commission" // Rate table
	"mlm_ledger/internal/domain"     // Importing domain models
	"mlm_ledger/internal/middleware" // Authenticated user lookup
	"mlm_ledger/internal/referral"   // Graph walks
	"mlm_ledger/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
	"gorm.io/gorm"                  // GORM ORM library
)

// NetworkMember is one downline user as shown to their ancestor
type NetworkMember struct {
	ID           uint      `json:"id"`
	Username     string    `json:"username"`
	ReferralCode string    `json:"referral_code"`
	Status       string    `json:"status"`
	Level        int       `json:"level"`
	JoinedAt     time.Time `json:"joined_at"`
}

type networkPage struct {
	Members     []NetworkMember `json:"members"`
	LevelCounts []int           `json:"level_counts"` // Index 0 is level 1
	Page        int             `json:"page"`
	PageSize    int             `json:"page_size"`
	Total       int             `json:"total"`
	TotalPages  int             `json:"total_pages"`
	Cached      bool            `json:"cached"`
}

// NetworkHandler returns the user's downline up to five levels, newest first
func NetworkHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		level := 0 // 0 means every level
		if l := c.Query("level"); l != "" {
			v, err := strconv.Atoi(l)
			if err != nil || v < 1 || v > domain.MaxLevels {
				c.JSON(http.StatusBadRequest, gin.H{"error": "level must be between 1 and 5"})
				return
			}
			level = v
		}
		page := utils.ParsePage(c)
		ctx := c.Request.Context()
		cacheKey := utils.NetworkPrefix(userID) + "level:" + strconv.Itoa(level) + ":" + page.Suffix()
		var cached networkPage
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			cached.Cached = true
			c.JSON(http.StatusOK, cached)
			return
		}
		var root domain.User
		if err := db.WithContext(ctx).First(&root, userID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		members, err := referral.Downline(ctx, db, &root, domain.MaxLevels)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load network"})
			return
		}
		counts := referral.LevelCounts(members, domain.MaxLevels)
		if level > 0 {
			filtered := members[:0]
			for _, m := range members {
				if m.Level == level {
					filtered = append(filtered, m)
				}
			}
			members = filtered
		}
		referral.SortByJoinDesc(members)

		resp := networkPage{
			Members:     []NetworkMember{},
			LevelCounts: counts,
			Page:        page.Page,
			PageSize:    page.PageSize,
			Total:       len(members),
			TotalPages:  page.TotalPages(int64(len(members))),
		}
		start := page.Offset()
		if start < len(members) {
			end := start + page.PageSize
			if end > len(members) {
				end = len(members)
			}
			for _, m := range members[start:end] {
				resp.Members = append(resp.Members, NetworkMember{
					ID:           m.User.ID,
					Username:     m.User.Username,
					ReferralCode: m.User.ReferralCode,
					Status:       m.User.Status,
					Level:        m.Level,
					JoinedAt:     m.User.CreatedAt,
				})
			}
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, utils.CacheTTL)
		c.JSON(http.StatusOK, resp)
	}
}

// UplineEntry is one ancestor with what it would earn on the caller's purchases
type UplineEntry struct {
	Level    int              `json:"level"`
	UserID   uint             `json:"user_id"`
	Username string           `json:"username"`
	Eligible bool             `json:"eligible"`
	Rate     *decimal.Decimal `json:"rate,omitempty"` // Nil when the level is inactive
}

// UplineHandler returns the caller's sponsors, nearest first
func UplineHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := c.Request.Context()
		var user domain.User
		if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		chain, err := referral.Upline(ctx, db, &user, domain.MaxLevels, false)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load upline"})
			return
		}
		settings, err := commission.ActiveTable(ctx, db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rates"})
			return
		}
		rates := map[int]decimal.Decimal{}
		for _, s := range settings {
			rates[s.Level] = s.Rate
		}
		upline := make([]UplineEntry, 0, len(chain.Ancestors))
		for _, a := range chain.Ancestors {
			e := UplineEntry{Level: a.Hop, UserID: a.User.ID, Username: a.User.Username, Eligible: a.User.Eligible()}
			if r, ok := rates[a.Hop]; ok {
				e.Rate = &r
			}
			upline = append(upline, e)
		}
		c.JSON(http.StatusOK, gin.H{
			"upline":      upline,
			"broken_at":   chain.BrokenAt,
			"broken_code": chain.BrokenCode,
			"cycle":       chain.Cycle,
		})
	}
}
