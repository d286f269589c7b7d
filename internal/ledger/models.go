package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Capital event kinds
const (
	EventDeposit    = "DEPOSIT"
	EventWithdrawal = "WITHDRAWAL"
	EventAdjustment = "ADJUSTMENT"
)

// Fill is an immutable record of an executed or rejected order attempt.
// Once written it is never updated or deleted; every aggregate figure is
// recomputed from these rows.
type Fill struct {
	gorm.Model     `json:"-"`
	FillID         string          `gorm:"uniqueIndex" json:"fill_id"`
	OwnerID        string          `gorm:"index" json:"owner_id"`
	UserID         string          `gorm:"index" json:"user_id"`
	Exchange       string          `json:"exchange"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`       // BUY or SELL
	OrderType      string          `json:"order_type"` // MARKET or LIMIT
	Quantity       decimal.Decimal `gorm:"type:numeric(30,10)" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:numeric(30,10)" json:"price"`
	FeeAmount      decimal.Decimal `gorm:"type:numeric(30,10)" json:"fee_amount"`
	FeeCurrency    string          `json:"fee_currency"`
	Mode           string          `json:"mode"`    // PAPER or LIVE
	Outcome        string          `json:"outcome"` // FILLED or REJECTED
	RejectGate     string          `json:"reject_gate,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	IdempotencyKey string          `gorm:"index" json:"idempotency_key"`
	// ExecutedAt is stored serialized. Historical rows carry several
	// layouts, so every read path normalizes through ParseTimestamp
	// instead of trusting the column format.
	ExecutedAt string `json:"executed_at"`
}

// LedgerEvent is a non-fill capital event: funding, withdrawal, or a
// manual adjustment. Append-only, like Fill.
type LedgerEvent struct {
	gorm.Model `json:"-"`
	EventID    string          `gorm:"uniqueIndex" json:"event_id"`
	OwnerID    string          `gorm:"index" json:"owner_id"`
	Kind       string          `json:"kind"` // DEPOSIT, WITHDRAWAL, ADJUSTMENT
	Amount     decimal.Decimal `gorm:"type:numeric(30,10)" json:"amount"`
	Currency   string          `json:"currency"`
	Note       string          `json:"note,omitempty"`
	OccurredAt string          `json:"occurred_at"`
}

// Lot is an open position remnant left after FIFO matching. Quantity is
// positive for long lots and negative for short lots.
type Lot struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	OpenedAt time.Time       `json:"opened_at"`
}

// EquityResult is the computed equity for an owner scope. Partial is set
// when one or more open positions had no mark price and their unrealized
// contribution was treated as zero.
type EquityResult struct {
	Equity          decimal.Decimal `json:"equity"`
	StartingCapital decimal.Decimal `json:"starting_capital"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	FeesPaid        decimal.Decimal `json:"fees_paid"`
	Partial         bool            `json:"partial"`
}

// DrawdownResult carries current and maximum drawdown as percentages.
type DrawdownResult struct {
	CurrentPct decimal.Decimal `json:"current_pct"`
	MaxPct     decimal.Decimal `json:"max_pct"`
}

// ProfitPoint is one bucket of the profit series: net realized profit
// (realized PnL minus fees) for the period starting at PeriodStart.
type ProfitPoint struct {
	PeriodStart time.Time       `json:"period_start"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}
