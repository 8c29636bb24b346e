package domain

import (
	"time" // Timestamps

	"github.com/shopspring/decimal" // Money amounts
	"gorm.io/gorm"                  // GORM ORM library
)

// User roles and statuses
const (
	RoleUser        = "user"
	RoleAdmin       = "admin"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// User Model
//
// Balance, TotalEarnings and ReferralEarnings are a cache of the ledger. They are
// only written inside the same database transaction that appends the ledger row.
type User struct {
	ID               uint            `gorm:"primaryKey" json:"id"`                                    // Primary key
	Username         string          `gorm:"size:64;unique;not null" json:"username"`                 // Unique username
	Password         string          `gorm:"not null" json:"-"`                                       // Hashed password
	Role             string          `gorm:"size:16;default:user" json:"role"`                        // Role: user or admin
	Status           string          `gorm:"size:16;default:active" json:"status"`                    // active or suspended
	ReferralCode     string          `gorm:"size:16;uniqueIndex;not null" json:"referral_code"`       // Code others register under
	ReferredBy       *string         `gorm:"size:16;index" json:"referred_by,omitempty"`              // Sponsor's referral code
	Balance          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`    // Cached ledger sum
	TotalEarnings    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	ReferralEarnings decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"referral_earnings"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

// Eligible reports whether the user may receive commission
func (u *User) Eligible() bool {
	return !u.DeletedAt.Valid && u.Status != StatusSuspended
}
