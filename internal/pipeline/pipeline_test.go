package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/tradegate-api/internal/breaker"
	"github.com/ksred/tradegate-api/internal/exchange"
	"github.com/ksred/tradegate-api/internal/fees"
	"github.com/ksred/tradegate-api/internal/idempotency"
	"github.com/ksred/tradegate-api/internal/ledger"
	"github.com/ksred/tradegate-api/internal/limits"
	"github.com/ksred/tradegate-api/internal/marketdata"
	"github.com/ksred/tradegate-api/internal/types"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeExecutor returns a fixed result or error and counts invocations.
type fakeExecutor struct {
	result *exchange.Result
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, req *types.OrderRequest) (*exchange.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	service *Service
	db      *gorm.DB
	store   *ledger.Store
	guard   *idempotency.Guard
	marks   *marketdata.StaticProvider
	exec    *fakeExecutor
}

// newTestEnv wires a full pipeline over an in-memory database. The fee
// calculator requires an edge of 20 bps (taker 10 + floor 10).
func newTestEnv(t *testing.T, limitCfg limits.Config, breakerCfg breaker.Config) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledger.Fill{},
		&ledger.LedgerEvent{},
		&idempotency.PendingOrderRecord{},
		&limits.TradeLimitCounter{},
		&breaker.CircuitBreakerState{},
	))

	marks := marketdata.NewStaticProvider()
	store := ledger.NewStore(db, marks)
	guard := idempotency.NewGuard(db, idempotency.DefaultTTL)
	calculator := fees.NewCalculator(fees.Config{
		Default:    fees.FeeTable{TakerBps: decimal.NewFromInt(10)},
		MinEdgeBps: decimal.NewFromInt(10),
	})
	if limitCfg.BotDailyCap == 0 {
		limitCfg = limits.Config{BotDailyCap: 100, UserDailyCap: 100, BurstCap: 100}
	}
	limiter := limits.NewLimiter(db, limitCfg)
	engine := breaker.NewEngine(db, store, breakerCfg)
	exec := &fakeExecutor{result: &exchange.Result{
		Venue:       "binance",
		Price:       d(100),
		Quantity:    d(1),
		FeeAmount:   d(2),
		FeeCurrency: "USD",
	}}

	return &testEnv{
		service: NewService(guard, calculator, limiter, engine, exec, store, time.Second),
		db:      db,
		store:   store,
		guard:   guard,
		marks:   marks,
		exec:    exec,
	}
}

func order(key string, edgeBps int64) *types.OrderRequest {
	return &types.OrderRequest{
		OwnerID:         "BOT_A",
		UserID:          "USER_1",
		Exchange:        "binance",
		Symbol:          "BTC-USD",
		Side:            types.SideBuy,
		OrderType:       types.OrderTypeMarket,
		Quantity:        d(1),
		ExpectedEdgeBps: decimal.NewFromInt(edgeBps),
		IdempotencyKey:  key,
		Mode:            types.ModePaper,
	}
}

func TestSubmitAcceptsAndRecordsFill(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})

	result, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.False(t, result.Cached)
	require.NotNil(t, result.Fill)
	assert.Equal(t, types.OutcomeFilled, result.Fill.Outcome)

	// The fill is in the ledger and feeds the accounting aggregates.
	stored, err := env.service.GetFill(result.Fill.FillID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Price.Equal(d(100)))

	paid, err := env.store.ComputeFeesPaid("BOT_A")
	require.NoError(t, err)
	assert.True(t, paid.Equal(d(2)))
}

func TestSubmitDuplicateKeyReplaysWithoutReexecuting(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})

	first, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, first.Status)

	second, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, second.Status)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Fill.FillID, second.Fill.FillID)
	assert.Equal(t, 1, env.exec.calls)

	// Only one fill exists and only one daily-counter slot was consumed.
	open, err := env.store.OpenLots("BOT_A")
	require.NoError(t, err)
	require.Len(t, open["BTC-USD"], 1)
	assert.True(t, open["BTC-USD"][0].Quantity.Equal(d(1)))
}

func TestSubmitRejectsOnFeeGate(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})

	result, err := env.service.Submit(context.Background(), order("key-1", 5))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateFeeEdge, result.Gate)
	require.NotNil(t, result.Fill)
	assert.Equal(t, types.OutcomeRejected, result.Fill.Outcome)
	assert.Equal(t, GateFeeEdge, result.Fill.RejectGate)
	assert.Zero(t, env.exec.calls)

	// The rejection is cached against the key.
	replay, err := env.service.Submit(context.Background(), order("key-1", 5))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, replay.Status)
	assert.True(t, replay.Cached)
	assert.Equal(t, GateFeeEdge, replay.Gate)
}

func TestSubmitRejectsOnTradeLimit(t *testing.T) {
	env := newTestEnv(t, limits.Config{BotDailyCap: 1, UserDailyCap: 100, BurstCap: 100}, breaker.Config{})

	first, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, first.Status)

	second, err := env.service.Submit(context.Background(), order("key-2", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, second.Status)
	assert.Equal(t, GateTradeLimit, second.Gate)
	assert.Contains(t, second.Reason, "daily cap reached")
	assert.Equal(t, 1, env.exec.calls)
}

func TestSubmitRejectsWhenBreakerTripped(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{MaxHourlyErrors: 1})

	// Seed recent execution failures so the breaker trips on evaluation.
	for i := 0; i < 2; i++ {
		_, err := env.store.AppendFill(&ledger.Fill{
			OwnerID:      "BOT_A",
			Exchange:     "binance",
			Symbol:       "BTC-USD",
			Side:         types.SideBuy,
			OrderType:    types.OrderTypeMarket,
			Quantity:     d(1),
			Mode:         types.ModePaper,
			Outcome:      types.OutcomeRejected,
			RejectGate:   GateExecution,
			RejectReason: "venue rejected order",
		})
		require.NoError(t, err)
	}

	result, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateCircuitBreaker, result.Gate)
	assert.Equal(t, breaker.ReasonErrorRate, result.Reason)
	assert.Zero(t, env.exec.calls)
}

func TestSubmitRecordsExecutionFailure(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})
	env.exec.err = &exchange.ExecutionError{Reason: "venue unavailable", Retryable: true}

	result, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateExecution, result.Gate)
	assert.Equal(t, "venue unavailable", result.Reason)
	require.NotNil(t, result.Fill)
	assert.Equal(t, types.OutcomeRejected, result.Fill.Outcome)

	// Retrying the same key replays the failure instead of re-executing.
	replay, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.True(t, replay.Cached)
	assert.Equal(t, GateExecution, replay.Gate)
	assert.Equal(t, 1, env.exec.calls)
}

func TestSubmitDuplicateInFlight(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})

	// An unresolved reservation simulates a concurrent submission that
	// has not settled yet.
	_, err := env.guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)

	result, err := env.service.Submit(context.Background(), order("key-1", 50))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Equal(t, GateIdempotency, result.Gate)
	assert.Nil(t, result.Fill)
	assert.Zero(t, env.exec.calls)
}

func TestSubmitValidationFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})

	bad := order("key-1", 50)
	bad.Quantity = d(-1)

	_, err := env.service.Submit(context.Background(), bad)
	var validationErr *types.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "quantity", validationErr.Field)

	// No reservation was taken, so the key is still fresh.
	reservation, err := env.guard.Reserve("BOT_A", "key-1")
	require.NoError(t, err)
	assert.Nil(t, reservation.Previous)
}

func TestSubmitPaperModeThroughSimulator(t *testing.T) {
	env := newTestEnv(t, limits.Config{}, breaker.Config{})
	env.marks.SetPrice("binance", "BTC-USD", d(65000))

	// Swap in the real simulator: paper orders fill deterministically at
	// the mark price.
	simulator := exchange.NewSimulator(exchange.DefaultVenues(), env.marks)
	service := NewService(env.guard, fees.NewCalculator(fees.Config{
		Default:    fees.FeeTable{TakerBps: decimal.NewFromInt(10)},
		MinEdgeBps: decimal.NewFromInt(10),
	}), limits.NewLimiter(env.db, limits.Config{BotDailyCap: 100, UserDailyCap: 100, BurstCap: 100}),
		breaker.NewEngine(env.db, env.store, breaker.Config{}), simulator, env.store, time.Second)

	result, err := service.Submit(context.Background(), order("key-sim", 50))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, result.Status)
	assert.True(t, result.Fill.Price.Equal(d(65000)))
}
