// Package exchange is the execution collaborator boundary. The pipeline
// talks to the Executor interface; the simulator below stands in for
// real venue connectivity, reproducing its latency and failure modes.
package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/tradegate-api/internal/marketdata"
	"github.com/ksred/tradegate-api/internal/types"
)

// Result is a successful execution: the fill price, quantity, and fee
// charged by the venue.
type Result struct {
	Venue       string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeCurrency string
}

// ExecutionError is a structured venue failure. Retryable failures may
// be resubmitted, but only under a new idempotency key.
type ExecutionError struct {
	Reason    string
	Retryable bool
}

func (e *ExecutionError) Error() string {
	return e.Reason
}

// Executor submits an order to a venue. Implementations must honor
// context cancellation; the pipeline bounds every call with a timeout.
type Executor interface {
	Execute(ctx context.Context, req *types.OrderRequest) (*Result, error)
}

// Venue models one simulated exchange.
type Venue struct {
	Name             string
	MinLatency       int // in milliseconds
	MaxLatency       int
	SuccessRate      float64 // 0-1, probability of successful execution
	TakerFeeBps      decimal.Decimal
	PriceVariancePct float64 // max deviation applied to the reference price
}

var bpsDivisor = decimal.NewFromInt(10000)

// Simulator executes orders against a set of mock venues. Paper-mode
// orders always fill at the reference price; live-mode orders see
// simulated latency, price variance, and failures.
type Simulator struct {
	venues map[string]Venue
	marks  marketdata.Provider
}

// NewSimulator creates a simulator over the given venues. The market
// data provider supplies reference prices for market orders submitted
// without one.
func NewSimulator(venues []Venue, marks marketdata.Provider) *Simulator {
	byName := make(map[string]Venue, len(venues))
	for _, v := range venues {
		byName[v.Name] = v
	}
	return &Simulator{venues: byName, marks: marks}
}

// DefaultVenues returns the venue set used by the server and simulation.
func DefaultVenues() []Venue {
	return []Venue{
		{
			Name:             "binance",
			MinLatency:       5,
			MaxLatency:       30,
			SuccessRate:      0.97,
			TakerFeeBps:      decimal.NewFromInt(10),
			PriceVariancePct: 0.002,
		},
		{
			Name:             "coinbase",
			MinLatency:       10,
			MaxLatency:       60,
			SuccessRate:      0.95,
			TakerFeeBps:      decimal.NewFromInt(25),
			PriceVariancePct: 0.003,
		},
		{
			Name:             "kraken",
			MinLatency:       15,
			MaxLatency:       80,
			SuccessRate:      0.93,
			TakerFeeBps:      decimal.NewFromInt(16),
			PriceVariancePct: 0.004,
		},
	}
}

// Execute fills the order on the requested venue or returns a structured
// failure.
func (s *Simulator) Execute(ctx context.Context, req *types.OrderRequest) (*Result, error) {
	logger := log.With().
		Str("exchange", req.Exchange).
		Str("symbol", req.Symbol).
		Logger()

	venue, ok := s.venues[req.Exchange]
	if !ok {
		return nil, &ExecutionError{
			Reason: fmt.Sprintf("unknown venue %s", req.Exchange),
		}
	}

	reference := req.Price
	if !reference.IsPositive() {
		mark, err := s.marks.MarkPrice(req.Exchange, req.Symbol)
		if err != nil {
			return nil, &ExecutionError{
				Reason:    fmt.Sprintf("no reference price for %s on %s", req.Symbol, req.Exchange),
				Retryable: true,
			}
		}
		reference = mark
	}

	if req.Mode == types.ModePaper {
		return s.fill(venue, reference, req.Quantity), nil
	}

	// Simulated network latency, interruptible by the pipeline timeout.
	latency := rand.Intn(venue.MaxLatency-venue.MinLatency+1) + venue.MinLatency
	select {
	case <-ctx.Done():
		return nil, &ExecutionError{
			Reason:    fmt.Sprintf("execution timed out on %s", venue.Name),
			Retryable: true,
		}
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	if rand.Float64() > venue.SuccessRate {
		logger.Warn().
			Str("venue", venue.Name).
			Float64("success_rate", venue.SuccessRate).
			Msg("simulated venue rejection")
		return nil, &ExecutionError{
			Reason:    fmt.Sprintf("venue %s rejected the order", venue.Name),
			Retryable: true,
		}
	}

	// Fill price drifts within the venue's variance band.
	variance := 1 + (rand.Float64()*2-1)*venue.PriceVariancePct
	executed := reference.Mul(decimal.NewFromFloat(variance))

	result := s.fill(venue, executed, req.Quantity)
	logger.Info().
		Str("venue", venue.Name).
		Str("price", result.Price.String()).
		Str("quantity", result.Quantity.String()).
		Str("fee_amount", result.FeeAmount.String()).
		Msg("order executed on venue")
	return result, nil
}

func (s *Simulator) fill(venue Venue, price, quantity decimal.Decimal) *Result {
	fee := price.Mul(quantity).Mul(venue.TakerFeeBps).Div(bpsDivisor)
	return &Result{
		Venue:       venue.Name,
		Price:       price,
		Quantity:    quantity,
		FeeAmount:   fee,
		FeeCurrency: "USD",
	}
}
