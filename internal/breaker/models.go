package breaker

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Breaker statuses
const (
	StatusClosed  = "CLOSED"
	StatusTripped = "TRIPPED"
)

// Trip reasons
const (
	ReasonDrawdown          = "DRAWDOWN_EXCEEDED"
	ReasonDailyLoss         = "DAILY_LOSS_EXCEEDED"
	ReasonConsecutiveLosses = "CONSECUTIVE_LOSSES"
	ReasonErrorRate         = "ERROR_RATE_EXCEEDED"
)

// CircuitBreakerState is the per-scope latch. While TRIPPED every order
// submission for the scope is rejected until an explicit reset; there is
// no automatic recovery path.
type CircuitBreakerState struct {
	gorm.Model `json:"-"`
	ScopeID    string     `gorm:"uniqueIndex" json:"scope_id"`
	Status     string     `json:"status"` // CLOSED or TRIPPED
	TripReason string     `json:"trip_reason,omitempty"`
	TrippedAt  *time.Time `json:"tripped_at,omitempty"`

	// Metrics snapshot captured at trip time, kept for audit.
	DrawdownPct       decimal.Decimal `gorm:"type:numeric(20,10)" json:"drawdown_pct"`
	DailyLossPct      decimal.Decimal `gorm:"type:numeric(20,10)" json:"daily_loss_pct"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	ErrorCount        int             `json:"error_count"`

	ResetJustification string     `json:"reset_justification,omitempty"`
	ResetAt            *time.Time `json:"reset_at,omitempty"`
}
