package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateFill appends a fill. Fills are never updated or deleted.
func (d *Database) CreateFill(fill *Fill) error {
	return d.db.Create(fill).Error
}

// CreateEvent appends a capital event.
func (d *Database) CreateEvent(event *LedgerEvent) error {
	return d.db.Create(event).Error
}

func (d *Database) GetFill(fillID string) (*Fill, error) {
	var fill Fill
	if err := d.db.Where("fill_id = ?", fillID).First(&fill).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch fill: %w", err)
	}
	return &fill, nil
}

// ListFillsByOwner returns every fill for an owner scope in insertion
// order. Chronological ordering is decided by the caller after timestamp
// normalization, not by the serialized column.
func (d *Database) ListFillsByOwner(ownerID string) ([]Fill, error) {
	var fills []Fill
	if err := d.db.Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&fills).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch fills: %w", err)
	}
	return fills, nil
}

// ListEventsByOwner returns every capital event for an owner scope.
func (d *Database) ListEventsByOwner(ownerID string) ([]LedgerEvent, error) {
	var events []LedgerEvent
	if err := d.db.Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger events: %w", err)
	}
	return events, nil
}
