package migrations

import (
	"gorm.io/gorm"
)

// AddLedgerIndexes creates the composite indexes the aggregate read
// paths and the sweeper rely on.
func AddLedgerIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for the per-owner replay scan
		`CREATE INDEX IF NOT EXISTS idx_fills_owner_outcome
		 ON fills(owner_id, outcome)`,

		// Index for idempotency replay lookups
		`CREATE INDEX IF NOT EXISTS idx_fills_owner_key
		 ON fills(owner_id, idempotency_key)`,

		// Index for the idempotency sweeper's expiry scan
		`CREATE INDEX IF NOT EXISTS idx_pending_expires_at
		 ON pending_order_records(expires_at)`,

		// Index for capital event scans per owner
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_owner
		 ON ledger_events(owner_id)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
