package main

import (
	"mlm_ledger/internal/config" // Custom import path (Config)
	"mlm_ledger/internal/db"     // Custom import path (Database)

	"github.com/sirupsen/logrus" // Logging library
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration

	gdb, err := db.Open(cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		logrus.Fatalf("migration failed: %v", err)
	}
	// Only fills levels that are missing, admin edits survive a rerun
	if err := db.SeedCommissionSettings(gdb); err != nil {
		logrus.Fatalf("seeding commission settings failed: %v", err)
	}
	logrus.Info("Migration completed")
}
