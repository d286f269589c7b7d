package breaker

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

// GetState retrieves the breaker state for a scope, or nil when the
// scope has never been evaluated.
func (d *Database) GetState(scopeID string) (*CircuitBreakerState, error) {
	var state CircuitBreakerState
	if err := d.db.Where("scope_id = ?", scopeID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch breaker state: %w", err)
	}
	return &state, nil
}

// CreateState persists a freshly created scope state.
func (d *Database) CreateState(state *CircuitBreakerState) error {
	return d.db.Create(state).Error
}

// SaveState writes an updated scope state.
func (d *Database) SaveState(state *CircuitBreakerState) error {
	return d.db.Save(state).Error
}
