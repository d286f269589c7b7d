// Package fees estimates the round-trip cost of an order in basis points
// and compares it to the caller's expected edge. The calculator is a
// pure function of its inputs and mutates nothing.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ksred/tradegate-api/internal/types"
)

// DefaultMinEdgeBps is the configurable floor added on top of total cost
// before an order is considered worth submitting.
var DefaultMinEdgeBps = decimal.NewFromInt(10)

// FeeTable holds per-venue cost assumptions in basis points.
type FeeTable struct {
	MakerBps  decimal.Decimal
	TakerBps  decimal.Decimal
	SpreadBps decimal.Decimal
}

// Config parameterizes the calculator. Zero-valued buffers are valid and
// simply contribute nothing.
type Config struct {
	// Tables maps exchange name to its fee table. Unknown exchanges
	// fall back to Default.
	Tables  map[string]FeeTable
	Default FeeTable

	SlippageBufferBps decimal.Decimal
	SafetyMarginBps   decimal.Decimal
	MinEdgeBps        decimal.Decimal
}

// Decision is the calculator's verdict for one order intent.
type Decision struct {
	Approved     bool
	TotalCostBps decimal.Decimal
	Reason       string
}

// Calculator evaluates expected edge against round-trip cost.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator. A zero MinEdgeBps is replaced with
// DefaultMinEdgeBps.
func NewCalculator(cfg Config) *Calculator {
	if cfg.MinEdgeBps.IsZero() {
		cfg.MinEdgeBps = DefaultMinEdgeBps
	}
	return &Calculator{cfg: cfg}
}

// Evaluate computes total cost as fee + spread + slippage buffer +
// safety margin and rejects when the expected edge does not clear total
// cost plus the minimum edge floor.
func (c *Calculator) Evaluate(req *types.OrderRequest) Decision {
	table, ok := c.cfg.Tables[req.Exchange]
	if !ok {
		table = c.cfg.Default
	}

	feeBps := table.TakerBps
	if req.OrderType == types.OrderTypeLimit {
		feeBps = table.MakerBps
	}

	totalCost := feeBps.
		Add(table.SpreadBps).
		Add(c.cfg.SlippageBufferBps).
		Add(c.cfg.SafetyMarginBps)

	required := totalCost.Add(c.cfg.MinEdgeBps)
	if req.ExpectedEdgeBps.LessThan(required) {
		return Decision{
			TotalCostBps: totalCost,
			Reason: fmt.Sprintf("expected edge %s bps below required %s bps (cost %s + floor %s)",
				req.ExpectedEdgeBps, required, totalCost, c.cfg.MinEdgeBps),
		}
	}

	return Decision{Approved: true, TotalCostBps: totalCost}
}
