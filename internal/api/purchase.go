package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"mlm_ledger/internal/commission" // Attribution engine
	"mlm_ledger/internal/domain"     // Importing domain models
	"mlm_ledger/internal/ledger"     // Ledger errors
	"mlm_ledger/internal/middleware" // Authenticated user lookup
	"mlm_ledger/internal/utils"      // Pagination

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Money amounts
	"gorm.io/gorm"                  // GORM ORM library
)

// IdempotencyHeader lets a client retry a purchase safely
const IdempotencyHeader = "Idempotency-Key"

// PurchaseRequest is the body of a completed purchase
type PurchaseRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Kind           string          `json:"kind" binding:"required,oneof=membership product"`
	PayWithBalance bool            `json:"pay_with_balance"`
}

// PurchaseHandler records a purchase and pays the buyer's upline
func PurchaseHandler(engine *commission.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req PurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil || !req.Amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if len(key) > 64 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key must be at most 64 characters"})
			return
		}
		res, err := engine.Purchase(c.Request.Context(), commission.PurchaseInput{
			BuyerID:        userID,
			Amount:         req.Amount,
			Kind:           req.Kind,
			IdempotencyKey: key,
			PayWithBalance: req.PayWithBalance,
		})
		if err != nil {
			writeAttributionError(c, err)
			return
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, res)
	}
}

// writeAttributionError maps engine and ledger errors to responses
func writeAttributionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, commission.ErrInvalidAmount), errors.Is(err, commission.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient funds"})
	case errors.Is(err, commission.ErrIdempotencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, commission.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Purchase not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Attribution failed"})
	}
}

// ListMyPurchasesHandler returns the authenticated user's purchases
func ListMyPurchasesHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := middleware.UserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		page := utils.ParsePage(c)
		query := db.WithContext(c.Request.Context()).Model(&domain.Purchase{}).Where("buyer_id = ?", userID)
		var total int64
		if err := query.Count(&total).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count purchases"})
			return
		}
		var rows []domain.Purchase
		if err := query.Order("id desc").Offset(page.Offset()).Limit(page.PageSize).Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch purchases"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"purchases":   rows,
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       total,
			"total_pages": page.TotalPages(total),
		})
	}
}
