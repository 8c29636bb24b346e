// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"testing" // Test handle

	"mlm_ledger/internal/db" // Database connection

	"github.com/glebarez/sqlite" // Pure Go SQLite driver
	"gorm.io/gorm"               // GORM ORM library
	"gorm.io/gorm/logger"        // Silent query logger
)

// Open returns a migrated in-memory SQLite database. A single connection keeps
// every statement on the same memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// OpenSeeded is Open plus the default commission table
func OpenSeeded(t testing.TB) *gorm.DB {
	t.Helper()
	gdb := Open(t)
	if err := db.SeedCommissionSettings(gdb); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return gdb
}
