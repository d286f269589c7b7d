// Package pipeline sequences the order guardrail gates: idempotency,
// fee/edge, trade limits, circuit breaker, then delegated execution, and
// finally the ledger append. The first failing gate short-circuits the
// rest and the rejection names the gate that refused.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/tradegate-api/internal/breaker"
	"github.com/ksred/tradegate-api/internal/exchange"
	"github.com/ksred/tradegate-api/internal/fees"
	"github.com/ksred/tradegate-api/internal/idempotency"
	"github.com/ksred/tradegate-api/internal/ledger"
	"github.com/ksred/tradegate-api/internal/limits"
	"github.com/ksred/tradegate-api/internal/types"
)

// Gate identifiers carried on rejections.
const (
	GateIdempotency    = "idempotency"
	GateFeeEdge        = "fee_edge"
	GateTradeLimit     = "trade_limit"
	GateCircuitBreaker = "circuit_breaker"
	GateExecution      = "execution"
)

// Submission statuses
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// DefaultExecutionTimeout bounds the delegated execution call so a hung
// venue cannot leave an order indeterminate.
const DefaultExecutionTimeout = 10 * time.Second

// SubmitResult is the typed outcome of a submission. Gate rejections are
// normal results, not errors; only storage and infrastructure failures
// surface as errors from Submit.
type SubmitResult struct {
	Status string       `json:"status"` // ACCEPTED or REJECTED
	Fill   *ledger.Fill `json:"fill,omitempty"`
	Gate   string       `json:"gate,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Cached bool         `json:"cached"` // true when replayed from an earlier submission with the same key
}

// Service orchestrates the four gates, the execution delegate, and the
// ledger. All dependencies are injected; the service holds no global
// state.
type Service struct {
	guard       *idempotency.Guard
	calculator  *fees.Calculator
	limiter     *limits.Limiter
	breaker     *breaker.Engine
	executor    exchange.Executor
	ledger      *ledger.Store
	execTimeout time.Duration
}

// NewService wires the pipeline. A non-positive timeout takes
// DefaultExecutionTimeout.
func NewService(
	guard *idempotency.Guard,
	calculator *fees.Calculator,
	limiter *limits.Limiter,
	breakerEngine *breaker.Engine,
	executor exchange.Executor,
	ledgerStore *ledger.Store,
	execTimeout time.Duration,
) *Service {
	if execTimeout <= 0 {
		execTimeout = DefaultExecutionTimeout
	}
	return &Service{
		guard:       guard,
		calculator:  calculator,
		limiter:     limiter,
		breaker:     breakerEngine,
		executor:    executor,
		ledger:      ledgerStore,
		execTimeout: execTimeout,
	}
}

// Submit runs an order request through the full pipeline. Validation
// failures return a *types.ValidationError; storage failures return
// wrapped errors; everything else is a typed SubmitResult.
func (s *Service) Submit(ctx context.Context, req *types.OrderRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("owner_id", req.OwnerID).
		Str("exchange", req.Exchange).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("idempotency_key", req.IdempotencyKey).
		Logger()

	// Gate 1: idempotency.
	reservation, err := s.guard.Reserve(req.OwnerID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, idempotency.ErrDuplicateInFlight) {
			// No reservation was taken, so no fill is recorded.
			return &SubmitResult{
				Status: StatusRejected,
				Gate:   GateIdempotency,
				Reason: "a submission with this key is already in flight",
			}, nil
		}
		return nil, err
	}
	if reservation.Previous != nil {
		return s.replayOutcome(reservation.Previous)
	}

	// Gate 2: fee versus edge.
	if decision := s.calculator.Evaluate(req); !decision.Approved {
		return s.recordRejection(req, GateFeeEdge, decision.Reason)
	}

	// Gate 3: trade limits.
	limitDecision, err := s.limiter.CheckAndIncrement(req.OwnerID, req.UserID, req.Exchange)
	if err != nil {
		return nil, err
	}
	if !limitDecision.Approved {
		return s.recordRejection(req, GateTradeLimit, limitDecision.Reason)
	}

	// Gate 4: circuit breaker.
	breakerDecision, err := s.breaker.Evaluate(req.OwnerID)
	if err != nil {
		return nil, err
	}
	if breakerDecision.Tripped {
		return s.recordRejection(req, GateCircuitBreaker, breakerDecision.Reason)
	}

	// All gates passed; delegate to the venue under a timeout.
	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	result, err := s.executor.Execute(execCtx, req)
	if err != nil {
		// The rejection is cached against the key so retries do not
		// re-attempt a possibly-placed live order.
		logger.Warn().Err(err).Msg("execution delegate failed")
		return s.recordRejection(req, GateExecution, err.Error())
	}

	fill := &ledger.Fill{
		OwnerID:        req.OwnerID,
		UserID:         req.UserID,
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       result.Quantity,
		Price:          result.Price,
		FeeAmount:      result.FeeAmount,
		FeeCurrency:    result.FeeCurrency,
		Mode:           req.Mode,
		Outcome:        types.OutcomeFilled,
		IdempotencyKey: req.IdempotencyKey,
	}
	fillID, err := s.ledger.AppendFill(fill)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Resolve(req.OwnerID, req.IdempotencyKey, idempotency.OutcomeAccepted, fillID); err != nil {
		return nil, err
	}

	logger.Info().Str("fill_id", fillID).Msg("order accepted and filled")
	return &SubmitResult{Status: StatusAccepted, Fill: fill}, nil
}

// GetFill exposes ledger fills for the status endpoint.
func (s *Service) GetFill(fillID string) (*ledger.Fill, error) {
	return s.ledger.GetFill(fillID)
}

// recordRejection appends a rejected fill, resolves the reservation to
// the rejection, and returns the typed result. Storage failures here
// propagate: no partial outcome may be left behind.
func (s *Service) recordRejection(req *types.OrderRequest, gate, reason string) (*SubmitResult, error) {
	fill := &ledger.Fill{
		OwnerID:        req.OwnerID,
		UserID:         req.UserID,
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Mode:           req.Mode,
		Outcome:        types.OutcomeRejected,
		RejectGate:     gate,
		RejectReason:   reason,
		IdempotencyKey: req.IdempotencyKey,
	}
	fillID, err := s.ledger.AppendFill(fill)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Resolve(req.OwnerID, req.IdempotencyKey, idempotency.OutcomeRejected, fillID); err != nil {
		return nil, err
	}

	log.Info().
		Str("owner_id", req.OwnerID).
		Str("gate", gate).
		Str("reason", reason).
		Str("fill_id", fillID).
		Msg("order rejected")

	return &SubmitResult{
		Status: StatusRejected,
		Fill:   fill,
		Gate:   gate,
		Reason: reason,
	}, nil
}

// replayOutcome reconstructs the cached result for a resolved
// idempotency record so duplicate keys observe the original outcome.
func (s *Service) replayOutcome(record *idempotency.PendingOrderRecord) (*SubmitResult, error) {
	fill, err := s.ledger.GetFill(record.FillID)
	if err != nil {
		return nil, err
	}
	if fill == nil {
		return nil, fmt.Errorf("resolved idempotency record references missing fill %s", record.FillID)
	}

	result := &SubmitResult{Fill: fill, Cached: true}
	if record.Outcome == idempotency.OutcomeAccepted {
		result.Status = StatusAccepted
	} else {
		result.Status = StatusRejected
		result.Gate = fill.RejectGate
		result.Reason = fill.RejectReason
	}
	return result, nil
}
