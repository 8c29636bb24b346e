package commission

import (
	"context" // Context propagation
	"errors"  // Error inspection

	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Row locks and upserts
)

var (
	ErrInvalidLevel  = errors.New("level must be between 1 and 5")
	ErrInvalidRate   = errors.New("rate must be between 0 and 100")
	ErrInvalidAmount = errors.New("amount must be positive")
)

var hundred = decimal.NewFromInt(100)

// ActiveTable returns the active settings ordered by level
func ActiveTable(ctx context.Context, db *gorm.DB) ([]domain.CommissionSetting, error) {
	var rows []domain.CommissionSetting
	err := db.WithContext(ctx).
		Where("is_active = ? AND level BETWEEN ? AND ?", true, 1, domain.MaxLevels).
		Order("level asc").
		Find(&rows).Error
	return rows, err
}

// AllSettings returns every setting, active or not, ordered by level
func AllSettings(ctx context.Context, db *gorm.DB) ([]domain.CommissionSetting, error) {
	var rows []domain.CommissionSetting
	err := db.WithContext(ctx).Order("level asc").Find(&rows).Error
	return rows, err
}

// SettingInput is an admin edit to one level
type SettingInput struct {
	Rate        decimal.Decimal
	IsActive    bool
	Description string
}

// UpdateSetting creates or replaces the setting for a level
func UpdateSetting(ctx context.Context, db *gorm.DB, level int, in SettingInput) (*domain.CommissionSetting, error) {
	if level < 1 || level > domain.MaxLevels {
		return nil, ErrInvalidLevel
	}
	if in.Rate.IsNegative() || in.Rate.GreaterThan(hundred) {
		return nil, ErrInvalidRate
	}
	var row domain.CommissionSetting
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("level = ?", level).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = domain.CommissionSetting{Level: level, Rate: in.Rate.Round(2), IsActive: true}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		// A map so that is_active=false is written rather than skipped as a zero value
		return tx.Model(&row).Updates(map[string]any{
			"rate":        in.Rate.Round(2),
			"is_active":   in.IsActive,
			"description": in.Description,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("level = ?", level).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// rateTable maps level to rate for active settings
func rateTable(ctx context.Context, db *gorm.DB) (map[int]decimal.Decimal, error) {
	rows, err := ActiveTable(ctx, db)
	if err != nil {
		return nil, err
	}
	rates := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		rates[r.Level] = r.Rate
	}
	return rates, nil
}

// Amount is amount * rate / 100, rounded half away from zero to the paisa
func Amount(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred).Round(2)
}
