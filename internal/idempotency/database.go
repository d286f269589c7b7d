package idempotency

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetRecord retrieves the record for an (owner, key) pair, or nil when
// none exists.
func (d *Database) GetRecord(ownerID, key string) (*PendingOrderRecord, error) {
	var record PendingOrderRecord
	if err := d.db.Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch idempotency record: %w", err)
	}
	return &record, nil
}

// CreateRecord inserts a fresh reservation. The composite unique index
// makes concurrent duplicate inserts lose with a duplicate-key error.
func (d *Database) CreateRecord(record *PendingOrderRecord) error {
	return d.db.Create(record).Error
}

// ResolveRecord writes the final outcome onto an unresolved record.
func (d *Database) ResolveRecord(ownerID, key, outcome, fillID string) error {
	result := d.db.Model(&PendingOrderRecord{}).
		Where("owner_id = ? AND idempotency_key = ? AND outcome = ?", ownerID, key, "").
		Updates(map[string]any{"outcome": outcome, "fill_id": fillID})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve idempotency record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no unresolved idempotency record for owner %s key %s", ownerID, key)
	}
	return nil
}

// DeleteRecord removes a single record, used when an expired record
// blocks a fresh reservation.
func (d *Database) DeleteRecord(record *PendingOrderRecord) error {
	return d.db.Unscoped().Delete(record).Error
}

// DeleteExpired removes every record whose TTL elapsed before cutoff.
func (d *Database) DeleteExpired(cutoff time.Time) (int64, error) {
	result := d.db.Unscoped().
		Where("expires_at < ?", cutoff).
		Delete(&PendingOrderRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// IsDuplicateKey reports whether an insert failed on the unique index.
// The sqlite driver does not always translate to gorm.ErrDuplicatedKey,
// so the raw constraint message is checked as well.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
