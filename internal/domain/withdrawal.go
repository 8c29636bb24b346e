package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
)

// WithdrawalRequest Model
type WithdrawalRequest struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"not null;index" json:"user_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // Positive requested amount
	Method          string          `gorm:"size:32;not null" json:"method"`            // bank, easypaisa, jazzcash
	AccountDetails  string          `gorm:"size:255" json:"account_details"`
	Status          string          `gorm:"size:16;not null;index" json:"status"` // Mirrors the ledger row
	TransactionID   uint            `gorm:"not null;uniqueIndex" json:"transaction_id"`
	ReviewedBy      *uint           `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	RejectionReason string          `gorm:"size:255" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
