package order

import "time"

// ============================================================================
// Request DTOs
// ============================================================================

// CreateOrderRequest represents the request body for placing an order.
// Both JSON and form submissions bind to it.
type CreateOrderRequest struct {
	Item     string `json:"item" form:"item" binding:"required,min=1,max=100" example:"espresso beans"`
	Quantity int    `json:"quantity" form:"quantity" binding:"required,min=1,max=1000" example:"2"`
	Note     string `json:"note,omitempty" form:"note" binding:"omitempty,max=500" example:"leave at the door"`
}

// ListOrdersRequest represents query parameters for listing orders
type ListOrdersRequest struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}

// ============================================================================
// Response DTOs
// ============================================================================

// OrderResponse represents an order in API responses
type OrderResponse struct {
	ID        string    `json:"id" example:"6f1c2a9e-8a3b-4c61-9d0e-2f7a5b1c3d4e"`
	Item      string    `json:"item" example:"espresso beans"`
	Quantity  int       `json:"quantity" example:"2"`
	Note      string    `json:"note,omitempty" example:"leave at the door"`
	CreatedAt time.Time `json:"created_at" example:"2024-01-15T10:30:00Z"`
}

// ListOrdersResponse represents a paginated list of orders
type ListOrdersResponse struct {
	Orders   []OrderResponse `json:"orders"`
	Page     int             `json:"page" example:"1"`
	PageSize int             `json:"page_size" example:"20"`
}

// ToOrderResponse converts a domain order to the API shape
func ToOrderResponse(o *Order) OrderResponse {
	return OrderResponse{
		ID:        o.ID,
		Item:      o.Item,
		Quantity:  o.Quantity,
		Note:      o.Note,
		CreatedAt: o.CreatedAt,
	}
}
