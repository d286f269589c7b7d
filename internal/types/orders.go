package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Execution modes
const (
	ModePaper = "PAPER"
	ModeLive  = "LIVE"
)

// Fill outcomes
const (
	OutcomeFilled   = "FILLED"
	OutcomeRejected = "REJECTED"
)

// OrderRequest is the canonical inbound order submission. The boundary layer
// binds JSON onto this struct directly; no synonym keys are accepted.
type OrderRequest struct {
	OwnerID         string          `json:"owner_id"` // bot scope used for accounting and breaker state
	UserID          string          `json:"user_id"`
	Exchange        string          `json:"exchange"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`       // BUY or SELL
	OrderType       string          `json:"order_type"` // MARKET or LIMIT
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"` // limit price; reference price for market orders
	ExpectedEdgeBps decimal.Decimal `json:"expected_edge_bps"`
	IdempotencyKey  string          `json:"-"` // supplied via the Idempotency-Key header
	Mode            string          `json:"mode"` // PAPER or LIVE
}

// ValidationError reports a malformed order request. Validation failures are
// surfaced synchronously and never persisted as fills.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %s %s", e.Field, e.Reason)
}

// Validate checks the request for structural problems before any gate runs.
func (r *OrderRequest) Validate() error {
	switch {
	case r.OwnerID == "":
		return &ValidationError{Field: "owner_id", Reason: "is required"}
	case r.UserID == "":
		return &ValidationError{Field: "user_id", Reason: "is required"}
	case r.Exchange == "":
		return &ValidationError{Field: "exchange", Reason: "is required"}
	case r.Symbol == "":
		return &ValidationError{Field: "symbol", Reason: "is required"}
	}

	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if r.OrderType != OrderTypeMarket && r.OrderType != OrderTypeLimit {
		return &ValidationError{Field: "order_type", Reason: "must be MARKET or LIMIT"}
	}
	if r.Mode != ModePaper && r.Mode != ModeLive {
		return &ValidationError{Field: "mode", Reason: "must be PAPER or LIVE"}
	}
	if !r.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if r.OrderType == OrderTypeLimit && !r.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be positive for limit orders"}
	}
	if r.ExpectedEdgeBps.IsNegative() {
		return &ValidationError{Field: "expected_edge_bps", Reason: "must not be negative"}
	}
	return nil
}
