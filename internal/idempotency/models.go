package idempotency

import (
	"time"

	"gorm.io/gorm"
)

// Reservation outcomes
const (
	OutcomeAccepted = "ACCEPTED"
	OutcomeRejected = "REJECTED"
)

// PendingOrderRecord marks an in-flight or resolved submission for an
// (owner, idempotency key) pair. At most one unexpired record exists per
// pair, enforced by the composite unique index.
type PendingOrderRecord struct {
	gorm.Model     `json:"-"`
	OwnerID        string    `gorm:"uniqueIndex:idx_pending_owner_key" json:"owner_id"`
	IdempotencyKey string    `gorm:"uniqueIndex:idx_pending_owner_key" json:"idempotency_key"`
	SubmittedAt    time.Time `json:"submitted_at"`
	Outcome        string    `json:"outcome"` // empty until resolved
	FillID         string    `json:"fill_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Resolved reports whether the submission behind this record completed.
func (r *PendingOrderRecord) Resolved() bool {
	return r.Outcome != ""
}
