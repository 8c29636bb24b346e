package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
)

// Purchase kinds
const (
	PurchaseMembership = "membership"
	PurchaseProduct    = "product"
)

// Currency is the only currency the platform settles in
const Currency = "PKR"

// Purchase Model, the economic event commissions are attributed from
type Purchase struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	BuyerID         uint            `gorm:"not null;index" json:"buyer_id"`
	Kind            string          `gorm:"size:32;not null" json:"kind"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency        string          `gorm:"size:3;not null;default:PKR" json:"currency"`
	Status          string          `gorm:"size:16;not null" json:"status"`
	Reference       string          `gorm:"size:64;not null" json:"reference"`
	IdempotencyKey  string          `gorm:"size:64;uniqueIndex;not null" json:"idempotency_key"`
	PaidFromBalance bool            `gorm:"not null;default:false" json:"paid_from_balance"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EventKey identifies the attribution pass triggered by this purchase
func (p *Purchase) EventKey() string {
	return "purchase:" + p.IdempotencyKey
}
