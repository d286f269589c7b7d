// Package breaker halts trading for a scope when its loss or error
// metrics cross configured thresholds. The trip is a latch: once written
// it holds regardless of metric recovery until an operator resets it
// with a recorded justification.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/tradegate-api/internal/ledger"
)

// Default trip thresholds.
var (
	DefaultMaxDrawdownPct  = decimal.NewFromInt(20)
	DefaultMaxDailyLossPct = decimal.NewFromInt(10)
)

const (
	DefaultMaxConsecutiveLosses = 5
	DefaultMaxHourlyErrors      = 10
)

// ErrJustificationRequired is returned when a reset is attempted without
// an audit justification.
var ErrJustificationRequired = errors.New("breaker reset requires a justification")

// Config holds the trip thresholds. Zero values take the defaults.
type Config struct {
	MaxDrawdownPct       decimal.Decimal
	MaxDailyLossPct      decimal.Decimal
	MaxConsecutiveLosses int
	MaxHourlyErrors      int
}

// Decision is the breaker's verdict for one scope evaluation.
type Decision struct {
	Tripped bool
	Reason  string
}

// Engine evaluates per-scope trip conditions against ledger metrics. A
// mutex serializes evaluations so the first observer of a trip condition
// wins and every later evaluation sees the latched state.
type Engine struct {
	db     *Database
	ledger *ledger.Store
	cfg    Config

	mu  sync.Mutex
	now func() time.Time
}

// NewEngine creates a breaker engine reading metrics from the ledger store.
func NewEngine(gormDB *gorm.DB, ledgerStore *ledger.Store, cfg Config) *Engine {
	if cfg.MaxDrawdownPct.IsZero() {
		cfg.MaxDrawdownPct = DefaultMaxDrawdownPct
	}
	if cfg.MaxDailyLossPct.IsZero() {
		cfg.MaxDailyLossPct = DefaultMaxDailyLossPct
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = DefaultMaxConsecutiveLosses
	}
	if cfg.MaxHourlyErrors <= 0 {
		cfg.MaxHourlyErrors = DefaultMaxHourlyErrors
	}
	return &Engine{
		db:     NewDatabase(gormDB),
		ledger: ledgerStore,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Evaluate returns the latched state for a tripped scope, otherwise
// recomputes the scope's metrics and trips on the first violated
// threshold. A fresh trip persists the state with a metrics snapshot
// before returning.
func (e *Engine) Evaluate(scopeID string) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.db.GetState(scopeID)
	if err != nil {
		return Decision{}, err
	}
	if state == nil {
		state = &CircuitBreakerState{ScopeID: scopeID, Status: StatusClosed}
		if err := e.db.CreateState(state); err != nil {
			return Decision{}, err
		}
	}

	if state.Status == StatusTripped {
		return Decision{Tripped: true, Reason: state.TripReason}, nil
	}

	reason, snapshot, err := e.checkConditions(scopeID)
	if err != nil {
		return Decision{}, err
	}
	if reason == "" {
		return Decision{}, nil
	}

	now := e.now()
	state.Status = StatusTripped
	state.TripReason = reason
	state.TrippedAt = &now
	state.DrawdownPct = snapshot.DrawdownPct
	state.DailyLossPct = snapshot.DailyLossPct
	state.ConsecutiveLosses = snapshot.ConsecutiveLosses
	state.ErrorCount = snapshot.ErrorCount
	if err := e.db.SaveState(state); err != nil {
		return Decision{}, err
	}

	log.Warn().
		Str("scope_id", scopeID).
		Str("reason", reason).
		Str("drawdown_pct", snapshot.DrawdownPct.String()).
		Str("daily_loss_pct", snapshot.DailyLossPct.String()).
		Int("consecutive_losses", snapshot.ConsecutiveLosses).
		Int("error_count", snapshot.ErrorCount).
		Msg("circuit breaker tripped")

	return Decision{Tripped: true, Reason: reason}, nil
}

// Reset clears a tripped scope. The justification is mandatory and is
// stored for audit; whether the underlying condition actually resolved
// is the resetting operator's call, not re-validated here.
func (e *Engine) Reset(scopeID, justification string) error {
	if justification == "" {
		return ErrJustificationRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.db.GetState(scopeID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no breaker state for scope %s", scopeID)
	}

	now := e.now()
	state.Status = StatusClosed
	state.TripReason = ""
	state.TrippedAt = nil
	state.ResetJustification = justification
	state.ResetAt = &now
	if err := e.db.SaveState(state); err != nil {
		return err
	}

	log.Info().
		Str("scope_id", scopeID).
		Str("justification", justification).
		Msg("circuit breaker reset")
	return nil
}

// State returns the current persisted state for a scope, or nil when the
// scope was never evaluated.
func (e *Engine) State(scopeID string) (*CircuitBreakerState, error) {
	return e.db.GetState(scopeID)
}

type metricsSnapshot struct {
	DrawdownPct       decimal.Decimal
	DailyLossPct      decimal.Decimal
	ConsecutiveLosses int
	ErrorCount        int
}

// checkConditions computes current metrics and returns the first trip
// reason, or empty when everything is within thresholds.
func (e *Engine) checkConditions(scopeID string) (string, metricsSnapshot, error) {
	var snap metricsSnapshot

	drawdown, err := e.ledger.ComputeDrawdown(scopeID)
	if err != nil {
		return "", snap, err
	}
	snap.DrawdownPct = drawdown.CurrentPct

	equity, err := e.ledger.ComputeEquity(scopeID)
	if err != nil {
		return "", snap, err
	}
	dailyNet, err := e.ledger.DailyNetRealized(scopeID, e.now())
	if err != nil {
		return "", snap, err
	}
	if dailyNet.IsNegative() && equity.Equity.IsPositive() {
		snap.DailyLossPct = dailyNet.Neg().Div(equity.Equity).Mul(decimal.NewFromInt(100))
	}

	snap.ConsecutiveLosses, err = e.ledger.ConsecutiveLosses(scopeID)
	if err != nil {
		return "", snap, err
	}

	snap.ErrorCount, err = e.ledger.CountExecutionErrors(scopeID, e.now().Add(-time.Hour))
	if err != nil {
		return "", snap, err
	}

	switch {
	case snap.DrawdownPct.GreaterThan(e.cfg.MaxDrawdownPct):
		return ReasonDrawdown, snap, nil
	case snap.DailyLossPct.GreaterThan(e.cfg.MaxDailyLossPct):
		return ReasonDailyLoss, snap, nil
	case snap.ConsecutiveLosses >= e.cfg.MaxConsecutiveLosses:
		return ReasonConsecutiveLosses, snap, nil
	case snap.ErrorCount > e.cfg.MaxHourlyErrors:
		return ReasonErrorRate, snap, nil
	}
	return "", snap, nil
}
