package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"mlm_ledger/internal/domain"     // Importing domain models
	"mlm_ledger/internal/ledger"     // Ledger writer
	"mlm_ledger/internal/middleware" // Authenticated user lookup
	"mlm_ledger/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// WalletView is the cached wallet summary
type WalletView struct {
	UserID             uint            `json:"user_id"`
	Username           string          `json:"username"`
	ReferralCode       string          `json:"referral_code"`
	Currency           string          `json:"currency"`
	Balance            decimal.Decimal `json:"balance"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	ReferralEarnings   decimal.Decimal `json:"referral_earnings"`
	PendingWithdrawals decimal.Decimal `json:"pending_withdrawals"`
	Available          decimal.Decimal `json:"available"` // Balance minus pending withdrawals
}

// GetWalletHandler returns the authenticated user's balances
func GetWalletHandler(w *ledger.Writer, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := c.Request.Context()
		cacheKey := utils.WalletCacheKey(userID)
		var view WalletView
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &view); err == nil && found {
			c.JSON(http.StatusOK, gin.H{"wallet": view, "cached": true})
			return
		}
		var user domain.User
		if err := w.DB().WithContext(ctx).First(&user, userID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		pending, err := w.PendingDebits(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load wallet"})
			return
		}
		view = WalletView{
			UserID:             user.ID,
			Username:           user.Username,
			ReferralCode:       user.ReferralCode,
			Currency:           domain.Currency,
			Balance:            user.Balance,
			TotalEarnings:      user.TotalEarnings,
			ReferralEarnings:   user.ReferralEarnings,
			PendingWithdrawals: pending,
			Available:          user.Balance.Sub(pending),
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, view, utils.CacheTTL) // Dropped by the ledger commit hook
		c.JSON(http.StatusOK, gin.H{"wallet": view, "cached": false})
	}
}

// GetTransactionHistoryHandler returns the authenticated user's ledger rows, newest first
func GetTransactionHistoryHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page := utils.ParsePage(c)
		txType := strings.ToUpper(c.Query("type"))
		ctx := c.Request.Context()
		cacheKey := utils.TxHistoryPrefix(userID) + "type:" + txType + ":" + page.Suffix()
		var cached struct {
			Transactions []domain.Transaction `json:"transactions"`
			Page         int                  `json:"page"`
			PageSize     int                  `json:"page_size"`
			Total        int64                `json:"total"`
			TotalPages   int                  `json:"total_pages"`
		}
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"transactions": cached.Transactions,
				"page":         cached.Page,
				"page_size":    cached.PageSize,
				"total":        cached.Total,
				"total_pages":  cached.TotalPages,
				"cached":       true,
			})
			return
		}
		query := db.WithContext(ctx).Model(&domain.Transaction{}).Where("user_id = ?", userID)
		if txType != "" {
			query = query.Where("type = ?", txType) // Filter by transaction type
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count transactions"})
			return
		}
		var txs []domain.Transaction
		if err := query.Order("created_at desc, id desc").Offset(page.Offset()).Limit(page.PageSize).Find(&txs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transactions"})
			return
		}
		resp := gin.H{
			"transactions": txs,
			"page":         page.Page,
			"page_size":    page.PageSize,
			"total":        total,
			"total_pages":  page.TotalPages(total),
			"cached":       false,
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, resp, utils.CacheTTL)
		c.JSON(http.StatusOK, resp)
	}
}

// WithdrawalRequest is the body of a payout request
type WithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" binding:"required,oneof=bank easypaisa jazzcash"`
	AccountDetails string          `json:"account_details" binding:"required,max=255"`
}

// RequestWithdrawalHandler reserves funds for a payout an admin will review
func RequestWithdrawalHandler(w *ledger.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req WithdrawalRequest
		if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		wr, err := w.RequestWithdrawal(c.Request.Context(), ledger.WithdrawalInput{
			UserID:         userID,
			Amount:         req.Amount,
			Method:         req.Method,
			AccountDetails: req.AccountDetails,
		})
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient funds"})
			return
		case errors.Is(err, ledger.ErrZeroAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be at least 0.01"})
			return
		case errors.Is(err, ledger.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"user_id": userID,
				"amount":  req.Amount.StringFixed(2),
				"error":   err.Error(),
			}).Error("Withdrawal request failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Withdrawal request failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Withdrawal requested", "withdrawal": wr})
	}
}

// ListMyWithdrawalsHandler returns the authenticated user's withdrawal requests
func ListMyWithdrawalsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page := utils.ParsePage(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.WithdrawalRequest{}).Where("user_id = ?", userID)
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count withdrawals"})
			return
		}
		var rows []domain.WithdrawalRequest
		if err := query.Order("id desc").Offset(page.Offset()).Limit(page.PageSize).Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch withdrawals"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"withdrawals": rows,
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       total,
			"total_pages": page.TotalPages(total),
		})
	}
}
