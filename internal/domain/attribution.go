package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
)

// AttributionRun records one completed attribution pass
type AttributionRun struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	EventKey       string          `gorm:"size:80;uniqueIndex;not null" json:"event_key"`
	PurchaseID     uint            `gorm:"index" json:"purchase_id"`
	BuyerID        uint            `gorm:"index;not null" json:"buyer_id"`
	GrossAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"gross_amount"`
	TotalCredited  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_credited"`
	CreditedLevels int             `gorm:"not null" json:"credited_levels"`
	Policy         string          `gorm:"size:16;not null" json:"policy"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Escrow reasons and statuses
const (
	EscrowAncestorInactive  = "ancestor_inactive"
	EscrowSponsorUnresolved = "sponsor_unresolved"
	EscrowHeld              = "HELD"
)

// EscrowCredit holds a commission that had no eligible beneficiary
type EscrowCredit struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	EventKey      string          `gorm:"size:80;uniqueIndex:idx_escrow_event_level;not null" json:"event_key"`
	Level         int             `gorm:"uniqueIndex:idx_escrow_event_level;not null" json:"level"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	MissingCode   string          `gorm:"size:16" json:"missing_code"`
	MissingUserID *uint           `json:"missing_user_id,omitempty"`
	Reason        string          `gorm:"size:32;not null" json:"reason"`
	Status        string          `gorm:"size:16;not null" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
