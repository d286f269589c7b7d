// Package ledger is the single source of truth for trade accounting.
// Fills and capital events are append-only; equity, PnL, fees, and
// drawdown are recomputed from the records on demand rather than kept in
// caches that could drift.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/tradegate-api/internal/marketdata"
	"github.com/ksred/tradegate-api/internal/types"
)

// Profit series periods
const (
	PeriodDay  = "day"
	PeriodHour = "hour"
)

var hundred = decimal.NewFromInt(100)

// Store provides append and aggregate operations over the ledger.
type Store struct {
	db    *Database
	marks marketdata.Provider
	now   func() time.Time
}

// NewStore creates a ledger store. The market data provider supplies
// mark prices for unrealized PnL; pass a provider that always returns
// marketdata.ErrPriceUnavailable to degrade to realized-only equity.
func NewStore(gormDB *gorm.DB, marks marketdata.Provider) *Store {
	return &Store{
		db:    NewDatabase(gormDB),
		marks: marks,
		now:   time.Now,
	}
}

// AppendFill appends a fill record and returns its fill ID. Missing
// identifiers and timestamps are assigned here so callers only describe
// the attempt.
func (s *Store) AppendFill(fill *Fill) (string, error) {
	if fill.FillID == "" {
		fill.FillID = "FILL_" + uuid.New().String()
	}
	if fill.ExecutedAt == "" {
		fill.ExecutedAt = FormatTimestamp(s.now())
	}
	if err := s.db.CreateFill(fill); err != nil {
		return "", fmt.Errorf("failed to append fill: %w", err)
	}
	return fill.FillID, nil
}

// AppendEvent appends a capital event and returns its event ID.
func (s *Store) AppendEvent(event *LedgerEvent) (string, error) {
	if event.EventID == "" {
		event.EventID = "EVT_" + uuid.New().String()
	}
	if event.OccurredAt == "" {
		event.OccurredAt = FormatTimestamp(s.now())
	}
	if err := s.db.CreateEvent(event); err != nil {
		return "", fmt.Errorf("failed to append ledger event: %w", err)
	}
	return event.EventID, nil
}

// GetFill retrieves a fill by ID, or nil when absent.
func (s *Store) GetFill(fillID string) (*Fill, error) {
	return s.db.GetFill(fillID)
}

// ComputeRealizedPnL returns the FIFO-matched realized PnL for an owner.
func (s *Store) ComputeRealizedPnL(ownerID string) (decimal.Decimal, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return rep.realized, nil
}

// ComputeFeesPaid returns total fees across all filled orders.
func (s *Store) ComputeFeesPaid(ownerID string) (decimal.Decimal, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return rep.fees, nil
}

// OpenLots returns the unmatched position lots per symbol after FIFO
// matching. Long lots carry positive quantity, short lots negative.
func (s *Store) OpenLots(ownerID string) (map[string][]Lot, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return nil, err
	}
	return rep.open, nil
}

// ComputeEquity returns starting capital + realized PnL + unrealized
// PnL - fees. Open positions without a mark price contribute zero and
// flag the result as partial.
func (s *Store) ComputeEquity(ownerID string) (*EquityResult, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return nil, err
	}

	starting, err := s.startingCapital(ownerID)
	if err != nil {
		return nil, err
	}

	unrealized := decimal.Zero
	partial := false
	for symbol, lots := range rep.open {
		for _, lot := range lots {
			mark, err := s.marks.MarkPrice(rep.exchanges[symbol], symbol)
			if err != nil {
				partial = true
				continue
			}
			unrealized = unrealized.Add(mark.Sub(lot.Price).Mul(lot.Quantity))
		}
	}

	return &EquityResult{
		Equity:          starting.Add(rep.realized).Add(unrealized).Sub(rep.fees),
		StartingCapital: starting,
		RealizedPnL:     rep.realized,
		UnrealizedPnL:   unrealized,
		FeesPaid:        rep.fees,
		Partial:         partial,
	}, nil
}

// ComputeDrawdown replays the owner's equity history and returns the
// current and maximum drawdown percentages against the running peak.
func (s *Store) ComputeDrawdown(ownerID string) (*DrawdownResult, error) {
	timeline, err := s.equityTimeline(ownerID)
	if err != nil {
		return nil, err
	}

	equity := decimal.Zero
	peak := decimal.Zero
	maxPct := decimal.Zero
	currentPct := decimal.Zero

	for _, delta := range timeline {
		equity = equity.Add(delta)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			currentPct = peak.Sub(equity).Div(peak).Mul(hundred)
			if currentPct.GreaterThan(maxPct) {
				maxPct = currentPct
			}
		}
	}

	return &DrawdownResult{CurrentPct: currentPct, MaxPct: maxPct}, nil
}

// ProfitSeries buckets net realized profit (realized PnL minus fees) by
// period and returns at most limit buckets, oldest first.
func (s *Store) ProfitSeries(ownerID, period string, limit int) ([]ProfitPoint, error) {
	if period != PeriodDay && period != PeriodHour {
		return nil, fmt.Errorf("unsupported profit series period %q", period)
	}

	rep, err := s.replay(ownerID)
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]decimal.Decimal)
	for _, d := range rep.deltas {
		start := bucketStart(d.at, period)
		buckets[start] = buckets[start].Add(d.realized.Sub(d.fee))
	}

	points := make([]ProfitPoint, 0, len(buckets))
	for start, net := range buckets {
		points = append(points, ProfitPoint{PeriodStart: start, NetProfit: net})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].PeriodStart.Before(points[j].PeriodStart)
	})

	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

// ConsecutiveLosses returns the trailing count of realizing fills with
// negative realized PnL. Fills that close nothing do not break a streak.
func (s *Store) ConsecutiveLosses(ownerID string) (int, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return 0, err
	}

	streak := 0
	for i := len(rep.deltas) - 1; i >= 0; i-- {
		d := rep.deltas[i]
		if !d.realizing {
			continue
		}
		if d.realized.IsNegative() {
			streak++
			continue
		}
		break
	}
	return streak, nil
}

// DailyNetRealized returns realized PnL net of fees for the UTC calendar
// day containing now.
func (s *Store) DailyNetRealized(ownerID string, now time.Time) (decimal.Decimal, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return decimal.Zero, err
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	total := decimal.Zero
	for _, d := range rep.deltas {
		if d.at.Before(dayStart) || !d.at.Before(dayEnd) {
			continue
		}
		total = total.Add(d.realized.Sub(d.fee))
	}
	return total, nil
}

// CountExecutionErrors counts execution-gate rejections recorded for the
// owner since the given time.
func (s *Store) CountExecutionErrors(ownerID string, since time.Time) (int, error) {
	fills, err := s.db.ListFillsByOwner(ownerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range fills {
		fill := &fills[i]
		if fill.Outcome != types.OutcomeRejected || fill.RejectGate != "execution" {
			continue
		}
		at, err := ParseTimestamp(fill.ExecutedAt)
		if err != nil {
			log.Warn().Err(err).Str("fill_id", fill.FillID).Msg("skipping fill with malformed timestamp")
			continue
		}
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// --- internal replay machinery ---

type fillDelta struct {
	at        time.Time
	realized  decimal.Decimal
	fee       decimal.Decimal
	realizing bool
}

type replayState struct {
	realized  decimal.Decimal
	fees      decimal.Decimal
	open      map[string][]Lot
	exchanges map[string]string // symbol -> exchange of its open lots
	deltas    []fillDelta       // chronological, filled orders only
}

type timedFill struct {
	at   time.Time
	fill *Fill
}

// replay scans all filled orders for an owner in chronological order and
// performs FIFO lot matching. Malformed rows are skipped with a warning
// rather than failing the whole aggregate.
func (s *Store) replay(ownerID string) (*replayState, error) {
	fills, err := s.db.ListFillsByOwner(ownerID)
	if err != nil {
		return nil, err
	}

	timed := make([]timedFill, 0, len(fills))
	for i := range fills {
		fill := &fills[i]
		if fill.Outcome != types.OutcomeFilled {
			continue
		}
		at, err := ParseTimestamp(fill.ExecutedAt)
		if err != nil {
			log.Warn().Err(err).
				Str("fill_id", fill.FillID).
				Str("owner_id", ownerID).
				Msg("skipping fill with malformed timestamp")
			continue
		}
		timed = append(timed, timedFill{at: at, fill: fill})
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].at.Before(timed[j].at) })

	state := &replayState{
		open:      make(map[string][]Lot),
		exchanges: make(map[string]string),
	}

	for _, tf := range timed {
		fill := tf.fill
		direction := decimal.NewFromInt(1)
		if fill.Side == types.SideSell {
			direction = decimal.NewFromInt(-1)
		}

		remaining := fill.Quantity
		realized := decimal.Zero
		realizing := false
		lots := state.open[fill.Symbol]

		// Consume opposing lots oldest-first.
		for remaining.IsPositive() && len(lots) > 0 {
			front := lots[0]
			if front.Quantity.Sign() == int(direction.IntPart()) {
				// Same-direction lot: nothing left to close.
				break
			}

			matched := decimal.Min(remaining, front.Quantity.Abs())
			if front.Quantity.IsPositive() {
				// Closing a long: sell price minus lot price.
				realized = realized.Add(fill.Price.Sub(front.Price).Mul(matched))
			} else {
				// Closing a short: lot price minus buy price.
				realized = realized.Add(front.Price.Sub(fill.Price).Mul(matched))
			}
			realizing = true

			frontRemaining := front.Quantity.Abs().Sub(matched)
			if frontRemaining.IsZero() {
				lots = lots[1:]
			} else {
				lots[0].Quantity = frontRemaining.Mul(decimal.NewFromInt(int64(front.Quantity.Sign())))
			}
			remaining = remaining.Sub(matched)
		}

		if remaining.IsPositive() {
			lots = append(lots, Lot{
				Quantity: remaining.Mul(direction),
				Price:    fill.Price,
				OpenedAt: tf.at,
			})
		}

		state.open[fill.Symbol] = lots
		state.exchanges[fill.Symbol] = fill.Exchange
		state.realized = state.realized.Add(realized)
		state.fees = state.fees.Add(fill.FeeAmount)
		state.deltas = append(state.deltas, fillDelta{
			at:        tf.at,
			realized:  realized,
			fee:       fill.FeeAmount,
			realizing: realizing,
		})
	}

	// Drop emptied symbols so open-position consumers see only real lots.
	for symbol, lots := range state.open {
		if len(lots) == 0 {
			delete(state.open, symbol)
		}
	}

	return state, nil
}

// equityTimeline merges capital events and fill deltas chronologically
// into a sequence of signed equity changes.
func (s *Store) equityTimeline(ownerID string) ([]decimal.Decimal, error) {
	rep, err := s.replay(ownerID)
	if err != nil {
		return nil, err
	}
	events, err := s.db.ListEventsByOwner(ownerID)
	if err != nil {
		return nil, err
	}

	type point struct {
		at    time.Time
		delta decimal.Decimal
	}
	points := make([]point, 0, len(events)+len(rep.deltas))

	for i := range events {
		event := &events[i]
		at, err := ParseTimestamp(event.OccurredAt)
		if err != nil {
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Msg("skipping ledger event with malformed timestamp")
			continue
		}
		points = append(points, point{at: at, delta: signedEventAmount(event)})
	}
	for _, d := range rep.deltas {
		points = append(points, point{at: d.at, delta: d.realized.Sub(d.fee)})
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	timeline := make([]decimal.Decimal, len(points))
	for i, p := range points {
		timeline[i] = p.delta
	}
	return timeline, nil
}

func (s *Store) startingCapital(ownerID string) (decimal.Decimal, error) {
	events, err := s.db.ListEventsByOwner(ownerID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range events {
		total = total.Add(signedEventAmount(&events[i]))
	}
	return total, nil
}

func signedEventAmount(event *LedgerEvent) decimal.Decimal {
	if event.Kind == EventWithdrawal {
		return event.Amount.Neg()
	}
	return event.Amount
}

func bucketStart(at time.Time, period string) time.Time {
	at = at.UTC()
	if period == PeriodHour {
		return at.Truncate(time.Hour)
	}
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}
