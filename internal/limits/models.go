package limits

import (
	"time"

	"gorm.io/gorm"
)

// Day-window kinds
const (
	WindowBotDay  = "BOT_DAY"
	WindowUserDay = "USER_DAY"
)

// TradeLimitCounter is a rolling per-scope submission counter for one
// calendar-day window. Counts only ever increase within a window; the
// logical reset is the rollover to a new window_start.
type TradeLimitCounter struct {
	gorm.Model  `json:"-"`
	ScopeID     string    `gorm:"uniqueIndex:idx_limit_scope_window" json:"scope_id"`
	WindowKind  string    `gorm:"uniqueIndex:idx_limit_scope_window" json:"window_kind"`
	WindowStart time.Time `gorm:"uniqueIndex:idx_limit_scope_window" json:"window_start"`
	Count       int       `json:"count"`
}
