package pipeline

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/ksred/tradegate-api/internal/auth"
	"github.com/ksred/tradegate-api/internal/types"
	"github.com/ksred/tradegate-api/pkg/response"
)

// GinHandlers contains HTTP handlers for order submission endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for the pipeline
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitOrderHandler handles POST requests to submit orders through the
// guardrail pipeline. Requires a valid JWT token and an idempotency key
// in headers; the request body is the canonical order request.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.IdempotencyKey = idempotencyKey

		// The authenticated client owns the submission.
		if claims, exists := c.Get("claims"); exists {
			if clientID := auth.GetClientID(claims); clientID != "" {
				req.UserID = clientID
			}
		}

		result, err := h.service.Submit(c.Request.Context(), &req)
		if err != nil {
			var validationErr *types.ValidationError
			if errors.As(err, &validationErr) {
				response.BadRequest(c, validationErr.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		if result.Status == StatusRejected {
			response.OrderRejected(c, result, result.Reason)
			return
		}
		response.Success(c, result)
	}
}

// GetFillHandler handles GET requests to retrieve a fill by ID
// Requires a valid JWT token
// URL parameter: fill_id
func (h *GinHandlers) GetFillHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fillID := c.Param("fill_id")
		if fillID == "" {
			response.BadRequest(c, "Fill ID is required")
			return
		}

		fill, err := h.service.GetFill(fillID)
		if err != nil || fill == nil {
			response.NotFound(c, "Fill not found")
			return
		}

		response.Success(c, fill)
	}
}
