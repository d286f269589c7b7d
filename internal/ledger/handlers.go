package ledger

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/tradegate-api/pkg/response"
)

// GinHandlers contains HTTP handlers for ledger read and capital event
// endpoints
type GinHandlers struct {
	store *Store
}

// NewGinHandlers creates a new set of HTTP handlers for the ledger
func NewGinHandlers(store *Store) *GinHandlers {
	return &GinHandlers{
		store: store,
	}
}

// AppendEventHandler handles POST requests to record a capital event
// (deposit, withdrawal, or manual adjustment)
func (h *GinHandlers) AppendEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OwnerID  string          `json:"owner_id" binding:"required"`
			Kind     string          `json:"kind" binding:"required"`
			Amount   decimal.Decimal `json:"amount"`
			Currency string          `json:"currency"`
			Note     string          `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if req.Kind != EventDeposit && req.Kind != EventWithdrawal && req.Kind != EventAdjustment {
			response.BadRequest(c, "kind must be DEPOSIT, WITHDRAWAL, or ADJUSTMENT")
			return
		}
		if req.Kind != EventAdjustment && !req.Amount.IsPositive() {
			response.BadRequest(c, "amount must be positive")
			return
		}

		event := &LedgerEvent{
			OwnerID:  req.OwnerID,
			Kind:     req.Kind,
			Amount:   req.Amount,
			Currency: req.Currency,
			Note:     req.Note,
		}
		eventID, err := h.store.AppendEvent(event)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{"event_id": eventID})
	}
}

// EquityHandler handles GET requests for an owner's current equity
// URL parameter: owner_id
func (h *GinHandlers) EquityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		equity, err := h.store.ComputeEquity(c.Param("owner_id"))
		response.Handle(c, equity, err)
	}
}

// DrawdownHandler handles GET requests for an owner's drawdown figures
func (h *GinHandlers) DrawdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		drawdown, err := h.store.ComputeDrawdown(c.Param("owner_id"))
		response.Handle(c, drawdown, err)
	}
}

// ProfitSeriesHandler handles GET requests for bucketed net profit
// Query parameters: period (day|hour, default day), limit (default 30)
func (h *GinHandlers) ProfitSeriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		period := c.DefaultQuery("period", PeriodDay)

		limit := 30
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		series, err := h.store.ProfitSeries(c.Param("owner_id"), period, limit)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, series)
	}
}
