package referral

import (
	"context" // Context propagation
	"errors"  // Error inspection

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/dchest/uniuri" // Random referral codes
	"gorm.io/gorm"             // GORM ORM library
)

// CodeLength is the length of generated referral codes
const CodeLength = 8

// No 0/O or 1/I, codes get read out over the phone
var codeChars = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

var ErrCodeExhausted = errors.New("could not generate an unused referral code")

// NewCode returns a random referral code
func NewCode() string {
	return uniuri.NewLenChars(CodeLength, codeChars)
}

// UniqueCode returns a code no user, deleted or not, already holds
func UniqueCode(ctx context.Context, db *gorm.DB) (string, error) {
	for i := 0; i < 5; i++ {
		code := NewCode()
		var n int64
		if err := db.WithContext(ctx).Unscoped().Model(&domain.User{}).Where("referral_code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}
