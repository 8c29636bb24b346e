package db

import (
	"mlm_ledger/internal/domain" // Importing domain models

	"github.com/shopspring/decimal" // Money amounts
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/driver/mysql"          // MySQL driver for GORM
	"gorm.io/gorm"                  // GORM ORM library
	"gorm.io/gorm/clause"           // Row locks and upserts
)

// Models lists every table owned by the service
var Models = []any{
	&domain.User{},
	&domain.CommissionSetting{},
	&domain.Transaction{},
	&domain.Purchase{},
	&domain.AttributionRun{},
	&domain.EscrowCredit{},
	&domain.WithdrawalRequest{},
}

// DefaultCommissionTable is seeded once on a fresh database
var DefaultCommissionTable = []domain.CommissionSetting{
	{Level: 1, Rate: decimal.NewFromInt(15), IsActive: true, Description: "Direct referral"},
	{Level: 2, Rate: decimal.NewFromInt(10), IsActive: true, Description: "Second level"},
	{Level: 3, Rate: decimal.NewFromInt(5), IsActive: true, Description: "Third level"},
	{Level: 4, Rate: decimal.NewFromInt(3), IsActive: true, Description: "Fourth level"},
	{Level: 5, Rate: decimal.NewFromInt(2), IsActive: true, Description: "Fifth level"},
}

// Open connects to MySQL. Duplicate key errors surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
}

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(Models...); err != nil {
		return err
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}

// SeedCommissionSettings inserts the default table, leaving existing levels alone
func SeedCommissionSettings(db *gorm.DB) error {
	rows := make([]domain.CommissionSetting, len(DefaultCommissionTable))
	copy(rows, DefaultCommissionTable)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return res.Error
	}
	logrus.WithField("inserted", res.RowsAffected).Info("Commission settings seeded")
	return nil
}
