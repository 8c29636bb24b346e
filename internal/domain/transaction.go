package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
)

// Transaction types
const (
	TxCommission    = "COMMISSION"
	TxManualPayment = "MANUAL_PAYMENT"
	TxWithdrawal    = "WITHDRAWAL"
	TxPurchase      = "PURCHASE"
	TxAdjustment    = "ADJUSTMENT"
)

// Transaction statuses. PENDING moves once, to COMPLETED or FAILED.
const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxFailed    = "FAILED"
)

// Transaction Model
//
// A ledger row. Amount is signed: credits are positive, debits negative.
type Transaction struct {
	ID           uint            `gorm:"primaryKey" json:"id"`                                          // Primary key
	UserID       uint            `gorm:"not null;index" json:"user_id"`                                 // Owner whose balance it affects
	Type         string          `gorm:"size:32;not null;index" json:"type"`                            // COMMISSION, WITHDRAWAL, ...
	Status       string          `gorm:"size:16;not null;index" json:"status"`                          // PENDING, COMPLETED, FAILED
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`                     // Signed amount in PKR
	EventKey     *string         `gorm:"size:80;uniqueIndex:idx_tx_event_level" json:"event_key"`       // Triggering event for commissions
	Level        *int            `gorm:"uniqueIndex:idx_tx_event_level" json:"level,omitempty"`         // Commission level 1..5
	SourceUserID *uint           `gorm:"index" json:"source_user_id,omitempty"`                         // Buyer that triggered a commission
	Description  string          `gorm:"size:255" json:"description"`                                   // Human readable note
	Metadata     Metadata        `gorm:"type:text" json:"metadata,omitempty"`                           // Payment specific details
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the status can no longer change
func (t *Transaction) IsTerminal() bool {
	return t.Status == TxCompleted || t.Status == TxFailed
}

// EarningTypes are the credit types counted in TotalEarnings
var EarningTypes = []string{TxCommission, TxManualPayment}
