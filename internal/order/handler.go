package order

import (
	"github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/ahwlsqja/csrf-recovery/internal/common/middleware"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for order operations
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers order routes on the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.GET("", h.ListOrders)
		orders.POST("", h.CreateOrder)
	}
}

// CreateOrder godoc
// @Summary Place an order
// @Description Create an order for the current session. Requires the session's CSRF token in the X-CSRF-TOKEN header or the _token form field.
// @Tags orders
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Param X-CSRF-TOKEN header string false "Anti-forgery token"
// @Param request body CreateOrderRequest true "Order data"
// @Success 201 {object} middleware.SuccessResponse{data=OrderResponse} "Order created"
// @Failure 400 {object} middleware.ErrorResponse "Invalid input"
// @Failure 419 {object} middleware.ErrorResponse "CSRF token expired or mismatched"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /api/v1/orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	sess, ok := session.FromContext(c)
	if !ok {
		middleware.RespondError(c, errors.Unauthorized("Session required"))
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.RespondError(c, errors.InvalidInput(err.Error()))
		return
	}

	o, err := h.service.CreateOrder(c.Request.Context(), sess.ID, &req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	middleware.RespondCreated(c, ToOrderResponse(o))
}

// ListOrders godoc
// @Summary List orders
// @Description Get the current session's orders, newest first
// @Tags orders
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} middleware.SuccessResponse{data=ListOrdersResponse} "Order list"
// @Failure 400 {object} middleware.ErrorResponse "Invalid query parameters"
// @Failure 500 {object} middleware.ErrorResponse "Internal server error"
// @Router /api/v1/orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	sess, ok := session.FromContext(c)
	if !ok {
		middleware.RespondError(c, errors.Unauthorized("Session required"))
		return
	}

	var req ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.RespondError(c, errors.InvalidInput(err.Error()))
		return
	}

	result, err := h.service.ListOrders(c.Request.Context(), sess.ID, &req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	middleware.RespondOK(c, result)
}
