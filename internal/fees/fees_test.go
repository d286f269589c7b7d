package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ksred/tradegate-api/internal/types"
)

func bps(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newTestCalculator() *Calculator {
	return NewCalculator(Config{
		Tables: map[string]FeeTable{
			"binance": {MakerBps: bps(8), TakerBps: bps(10), SpreadBps: bps(2)},
		},
		Default:           FeeTable{MakerBps: bps(10), TakerBps: bps(15), SpreadBps: bps(2)},
		SlippageBufferBps: bps(5),
		SafetyMarginBps:   bps(3),
		MinEdgeBps:        bps(10),
	})
}

func order(exchange, orderType string, edgeBps int64) *types.OrderRequest {
	return &types.OrderRequest{
		OwnerID:         "BOT_A",
		Exchange:        exchange,
		Symbol:          "BTC-USD",
		Side:            types.SideBuy,
		OrderType:       orderType,
		Quantity:        decimal.NewFromInt(1),
		ExpectedEdgeBps: bps(edgeBps),
		Mode:            types.ModePaper,
	}
}

func TestEvaluateEdgeThreshold(t *testing.T) {
	calc := newTestCalculator()

	// MARKET on the default table: taker 15 + spread 2 + slippage 5 +
	// safety 3 = 25 total cost, so the edge must reach 35.
	rejected := calc.Evaluate(order("kraken", types.OrderTypeMarket, 34))
	assert.False(t, rejected.Approved)
	assert.True(t, rejected.TotalCostBps.Equal(bps(25)))
	assert.Contains(t, rejected.Reason, "below required 35 bps")

	approved := calc.Evaluate(order("kraken", types.OrderTypeMarket, 35))
	assert.True(t, approved.Approved)
	assert.Empty(t, approved.Reason)
}

func TestEvaluateUsesMakerFeeForLimitOrders(t *testing.T) {
	calc := newTestCalculator()

	// binance LIMIT: maker 8 + spread 2 + slippage 5 + safety 3 = 18,
	// required 28. A MARKET order at the same edge pays taker 10 and
	// needs 30.
	assert.True(t, calc.Evaluate(order("binance", types.OrderTypeLimit, 28)).Approved)
	assert.False(t, calc.Evaluate(order("binance", types.OrderTypeMarket, 28)).Approved)
	assert.True(t, calc.Evaluate(order("binance", types.OrderTypeMarket, 30)).Approved)
}

func TestEvaluateUnknownExchangeFallsBack(t *testing.T) {
	calc := newTestCalculator()

	decision := calc.Evaluate(order("unknown-venue", types.OrderTypeMarket, 100))
	assert.True(t, decision.Approved)
	assert.True(t, decision.TotalCostBps.Equal(bps(25)), "default table cost, got %s", decision.TotalCostBps)
}

func TestZeroMinEdgeGetsDefault(t *testing.T) {
	calc := NewCalculator(Config{
		Default: FeeTable{TakerBps: bps(10)},
	})

	// Cost 10, default floor 10: edge 19 fails, 20 clears.
	assert.False(t, calc.Evaluate(order("any", types.OrderTypeMarket, 19)).Approved)
	assert.True(t, calc.Evaluate(order("any", types.OrderTypeMarket, 20)).Approved)
}

func TestEvaluateDoesNotMutateRequest(t *testing.T) {
	calc := newTestCalculator()
	req := order("binance", types.OrderTypeMarket, 50)
	before := *req

	calc.Evaluate(req)
	assert.Equal(t, before, *req)
}
