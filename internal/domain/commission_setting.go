package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
)

// MaxLevels bounds both the upline attribution and the downline walk
const MaxLevels = 5

// CommissionSetting Model, one row per level
type CommissionSetting struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	Level       int             `gorm:"uniqueIndex;not null" json:"level"`             // 1..MaxLevels
	Rate        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"rate"`        // Whole percent, 15.00 means 15%
	IsActive    bool            `gorm:"not null;default:true" json:"is_active"`        // Inactive levels earn nothing
	Description string          `gorm:"size:255" json:"description"`                   // Shown on the explainer page
	UpdatedAt   time.Time       `json:"updated_at"`
}
