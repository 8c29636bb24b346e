package api

import (
	"context"  // Context for cache invalidation
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strconv"  // String conversion
	"strings"  // String manipulation
	"time"     // Date filters

	"mlm_ledger/internal/audit"      // Attribution audit documents
	"mlm_ledger/internal/commission" // Attribution engine
	"mlm_ledger/internal/domain"     // Importing domain models
	"mlm_ledger/internal/ledger"     // Ledger writer
	"mlm_ledger/internal/metrics"    // Drift gauge
	"mlm_ledger/internal/middleware" // Authenticated user lookup
	"mlm_ledger/internal/referral"   // Sponsor changes
	"mlm_ledger/internal/tasks"      // Reconcile queue
	"mlm_ledger/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID               uint            `json:"id"`
	Username         string          `json:"username"`
	Role             string          `json:"role"`
	Status           string          `json:"status"`
	ReferralCode     string          `json:"referral_code"`
	ReferredBy       *string         `json:"referred_by,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ListUsersHandler returns users with their cached balances
func ListUsersHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		page := utils.ParsePage(c)
		status := c.Query("status")
		cacheKey := utils.AdminUsersPrefix + "status:" + status + ":" + page.Suffix()
		var cached struct {
			Users      []UserAdminResponse `json:"users"`
			Page       int                 `json:"page"`
			PageSize   int                 `json:"page_size"`
			Total      int64               `json:"total"`
			TotalPages int                 `json:"total_pages"`
		}
		if found, err := utils.GetCache(ctx, rdb, cacheKey, &cached); err == nil && found {
			c.JSON(http.StatusOK, gin.H{
				"users":       cached.Users,
				"page":        cached.Page,
				"page_size":   cached.PageSize,
				"total":       cached.Total,
				"total_pages": cached.TotalPages,
				"cached":      true, // Indicate response is from cache
			})
			return
		}
		query := db.WithContext(ctx).Model(&domain.User{})
		if status != "" {
			query = query.Where("status = ?", status)
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count users"})
			return
		}
		var users []domain.User
		if err := query.Order("id asc").Offset(page.Offset()).Limit(page.PageSize).Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
			return
		}
		resp := make([]UserAdminResponse, len(users))
		for i, u := range users {
			resp[i] = UserAdminResponse{
				ID:               u.ID,
				Username:         u.Username,
				Role:             u.Role,
				Status:           u.Status,
				ReferralCode:     u.ReferralCode,
				ReferredBy:       u.ReferredBy,
				Balance:          u.Balance,
				TotalEarnings:    u.TotalEarnings,
				ReferralEarnings: u.ReferralEarnings,
				CreatedAt:        u.CreatedAt,
			}
		}
		respData := gin.H{
			"users":       resp,
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       total,
			"total_pages": page.TotalPages(total),
			"cached":      false,
		}
		_ = utils.SetCache(ctx, rdb, cacheKey, respData, utils.CacheTTL)
		c.JSON(http.StatusOK, respData)
	}
}

// parseDate accepts a plain date or an RFC 3339 timestamp
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// ListTransactionsHandler returns ledger rows with optional filters. Not cached,
// an auditor must see a row the moment it commits.
func ListTransactionsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := utils.ParsePage(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.Transaction{})
		if userID := c.Query("user_id"); userID != "" {
			id, err := strconv.ParseUint(userID, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
				return
			}
			query = query.Where("user_id = ?", id)
		}
		if txType := c.Query("type"); txType != "" {
			query = query.Where("type = ?", strings.ToUpper(txType))
		}
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", strings.ToUpper(status))
		}
		if key := c.Query("event_key"); key != "" {
			query = query.Where("event_key = ?", key)
		}
		if from := c.Query("from"); from != "" {
			t, err := parseDate(from)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date"})
				return
			}
			query = query.Where("created_at >= ?", t)
		}
		if to := c.Query("to"); to != "" {
			t, err := parseDate(to)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date"})
				return
			}
			if len(to) == len("2006-01-02") {
				t = t.Add(24 * time.Hour) // Whole day inclusive
			}
			query = query.Where("created_at < ?", t)
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
		c.JSON(http.StatusOK, gin.H{
			"transactions": txs,
			"page":         page.Page,
			"page_size":    page.PageSize,
			"total":        total,
			"total_pages":  page.TotalPages(total),
		})
	}
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

// invalidateUplineNetworks drops the network cache of everyone above a user
func invalidateUplineNetworks(ctx context.Context, db *gorm.DB, rdb *redis.Client, user *domain.User) {
	chain, err := referral.Upline(ctx, db, user, domain.MaxLevels, false)
	if err != nil {
		return
	}
	ids := make([]uint, 0, len(chain.Ancestors))
	for _, a := range chain.Ancestors {
		ids = append(ids, a.User.ID)
	}
	utils.InvalidateNetworks(ctx, rdb, ids)
}

// StatusRequest changes whether a user may earn
type StatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active suspended"`
}

// UpdateUserStatusHandler suspends or reactivates a user
func UpdateUserStatusHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		ctx := c.Request.Context()
		var user domain.User
		if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		if err := db.WithContext(ctx).Model(&user).Update("status", req.Status).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
			return
		}
		invalidateUplineNetworks(ctx, db, rdb, &user)
		_ = utils.DeleteCachePrefix(ctx, rdb, utils.AdminUsersPrefix)
		adminID, _ := middleware.UserID(c)
		logrus.WithFields(logrus.Fields{"admin_id": adminID, "user_id": user.ID, "status": req.Status}).Info("User status changed")
		c.JSON(http.StatusOK, gin.H{"message": "Status updated", "user_id": user.ID, "status": req.Status})
	}
}

// SponsorRequest re-parents a user; an empty code detaches them
type SponsorRequest struct {
	ReferralCode string `json:"referral_code"`
}

// ChangeSponsorHandler moves a user under a new sponsor
func ChangeSponsorHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req SponsorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		ctx := c.Request.Context()
		var before domain.User
		if err := db.WithContext(ctx).First(&before, id).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		invalidateUplineNetworks(ctx, db, rdb, &before)
		user, err := referral.ChangeSponsor(ctx, db, id, strings.ToUpper(strings.TrimSpace(req.ReferralCode)))
		switch {
		case errors.Is(err, referral.ErrUnknownSponsor):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown referral code"})
			return
		case errors.Is(err, referral.ErrCycle), errors.Is(err, referral.ErrSelfSponsor):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change sponsor"})
			return
		}
		invalidateUplineNetworks(ctx, db, rdb, user)
		_ = utils.DeleteCachePrefix(ctx, rdb, utils.AdminUsersPrefix)
		adminID, _ := middleware.UserID(c)
		logrus.WithFields(logrus.Fields{
			"admin_id":    adminID,
			"user_id":     user.ID,
			"referred_by": req.ReferralCode,
		}).Info("Sponsor changed")
		c.JSON(http.StatusOK, gin.H{"message": "Sponsor updated", "user_id": user.ID, "referred_by": user.ReferredBy})
	}
}

// PaymentRequest is an admin-entered payment or correction
type PaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=255"`
	Metadata    domain.Metadata `json:"metadata"`
}

// ManualPaymentHandler credits (or with a negative amount, debits) a user
func ManualPaymentHandler(w *ledger.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req PaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Amount.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		adminID, _ := middleware.UserID(c)
		row, err := w.ManualPayment(c.Request.Context(), ledger.PaymentInput{
			UserID:      id,
			AdminID:     adminID,
			Amount:      req.Amount,
			Description: req.Description,
			Metadata:    req.Metadata,
		})
		switch {
		case errors.Is(err, ledger.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		case errors.Is(err, ledger.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient funds"})
			return
		case errors.Is(err, ledger.ErrZeroAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be at least 0.01"})
			return
		case err != nil:
			logrus.WithFields(logrus.Fields{"user_id": id, "error": err.Error()}).Error("Manual payment failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Payment recorded", "transaction": row})
	}
}

// ListWithdrawalsHandler returns withdrawal requests, optionally by status
func ListWithdrawalsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := utils.ParsePage(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.WithdrawalRequest{})
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", strings.ToUpper(status))
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count withdrawals"})
			return
		}
		var rows []domain.WithdrawalRequest
		if err := query.Order("id asc").Offset(page.Offset()).Limit(page.PageSize).Find(&rows).Error; err != nil {
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

// RejectRequest carries the reason shown to the user
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// ApproveWithdrawalHandler pays out a pending withdrawal
func ApproveWithdrawalHandler(w *ledger.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		adminID, _ := middleware.UserID(c)
		wr, err := w.ApproveWithdrawal(c.Request.Context(), id, adminID)
		if err != nil {
			writeReviewError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Withdrawal approved", "withdrawal": wr})
	}
}

// RejectWithdrawalHandler releases a pending withdrawal's funds
func RejectWithdrawalHandler(w *ledger.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req RejectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "A rejection reason is required"})
			return
		}
		adminID, _ := middleware.UserID(c)
		wr, err := w.RejectWithdrawal(c.Request.Context(), id, adminID, req.Reason)
		if err != nil {
			writeReviewError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Withdrawal rejected", "withdrawal": wr})
	}
}

func writeReviewError(c *gin.Context, id uint, err error) {
	switch {
	case errors.Is(err, ledger.ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
	case errors.Is(err, ledger.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal already reviewed"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient funds"})
	default:
		logrus.WithFields(logrus.Fields{"withdrawal_id": id, "error": err.Error()}).Error("Withdrawal review failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Review failed"})
	}
}

// AttributePurchaseHandler runs attribution for a stored purchase
func AttributePurchaseHandler(engine *commission.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		res, err := engine.Replay(c.Request.Context(), id)
		if err != nil {
			writeAttributionError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// ListEscrowHandler returns held credits, newest first
func ListEscrowHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := utils.ParsePage(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.EscrowCredit{})
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", strings.ToUpper(status))
		}
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count escrow"})
			return
		}
		var rows []domain.EscrowCredit
		if err := query.Order("id desc").Offset(page.Offset()).Limit(page.PageSize).Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch escrow"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"escrow":      rows,
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       total,
			"total_pages": page.TotalPages(total),
		})
	}
}

// DriftHandler lists users whose cached balances disagree with the ledger
func DriftHandler(w *ledger.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		drift, err := w.FindDrift(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute drift"})
			return
		}
		metrics.BalanceDrift.Set(float64(len(drift)))
		if drift == nil {
			drift = []ledger.Drift{}
		}
		c.JSON(http.StatusOK, gin.H{"drift": drift, "count": len(drift)})
	}
}

// ReconcileHandler rebuilds cached balances from the ledger, on the worker when one is configured
func ReconcileHandler(enq tasks.Enqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID, _ := middleware.UserID(c)
		ticket, err := enq.EnqueueReconcile(c.Request.Context(), adminID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"admin_id": adminID, "error": err.Error()}).Error("Reconcile failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconcile failed"})
			return
		}
		status := http.StatusAccepted
		if ticket.Inline {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"reconcile": ticket})
	}
}

// AuditHandler returns the audit document of one attribution pass
func AuditHandler(sink audit.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := sink.Find(c.Request.Context(), c.Param("event_key"))
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit entry not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit entry"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit": entry})
	}
}
