package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/tradegate-api/internal/breaker"
	"github.com/ksred/tradegate-api/internal/database/migrations"
	"github.com/ksred/tradegate-api/internal/idempotency"
	"github.com/ksred/tradegate-api/internal/ledger"
	"github.com/ksred/tradegate-api/internal/limits"
)

// NewDatabase initializes and returns a new GORM DB connection. An empty
// path opens the default on-disk database; tests pass ":memory:".
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "tradegate.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&ledger.Fill{},
		&ledger.LedgerEvent{},
		&idempotency.PendingOrderRecord{},
		&limits.TradeLimitCounter{},
		&breaker.CircuitBreakerState{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
