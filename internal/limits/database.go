package limits

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetCount returns the current count for a scope's window, or zero when
// no counter row exists yet.
func (d *Database) GetCount(scopeID, windowKind string, windowStart time.Time) (int, error) {
	var counter TradeLimitCounter
	err := d.db.Where("scope_id = ? AND window_kind = ? AND window_start = ?",
		scopeID, windowKind, windowStart).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to fetch trade limit counter: %w", err)
	}
	return counter.Count, nil
}

// IncrementAll bumps every listed (scope, kind) counter for the window
// in a single transaction so approval increments all or nothing.
func (d *Database) IncrementAll(scopes []CounterKey, windowStart time.Time) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, key := range scopes {
		var counter TradeLimitCounter
		err := tx.Where("scope_id = ? AND window_kind = ? AND window_start = ?",
			key.ScopeID, key.WindowKind, windowStart).First(&counter).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			counter = TradeLimitCounter{
				ScopeID:     key.ScopeID,
				WindowKind:  key.WindowKind,
				WindowStart: windowStart,
				Count:       1,
			}
			if err := tx.Create(&counter).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to create trade limit counter: %w", err)
			}
		case err != nil:
			tx.Rollback()
			return fmt.Errorf("failed to fetch trade limit counter: %w", err)
		default:
			if err := tx.Model(&counter).Update("count", counter.Count+1).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to increment trade limit counter: %w", err)
			}
		}
	}

	return tx.Commit().Error
}

// CounterKey identifies one counter to increment.
type CounterKey struct {
	ScopeID    string
	WindowKind string
}
