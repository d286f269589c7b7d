package breaker

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ksred/tradegate-api/pkg/response"
)

// GinHandlers contains HTTP handlers for circuit breaker administration
type GinHandlers struct {
	engine *Engine
}

// NewGinHandlers creates a new set of HTTP handlers for breaker admin
func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{
		engine: engine,
	}
}

// GetStateHandler handles GET requests for a scope's breaker state
// Requires internal authentication
// URL parameter: scope_id
func (h *GinHandlers) GetStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := h.engine.State(c.Param("scope_id"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if state == nil {
			response.NotFound(c, "No breaker state for scope")
			return
		}
		response.Success(c, state)
	}
}

// ResetHandler handles POST requests to reset a tripped breaker
// Requires internal authentication and a justification for the audit
// trail
// URL parameter: scope_id
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Justification string `json:"justification" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "justification is required")
			return
		}

		if err := h.engine.Reset(c.Param("scope_id"), req.Justification); err != nil {
			if errors.Is(err, ErrJustificationRequired) {
				response.BadRequest(c, err.Error())
				return
			}
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{"message": "circuit breaker reset"})
	}
}
