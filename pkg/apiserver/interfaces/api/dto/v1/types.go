package v1

// CreateOrderRequest is the order submission payload.
type CreateOrderRequest struct {
	CustomerID string             `json:"customerId" validate:"required,max=64"`
	Items      []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderItemRequest is one requested line of an order.
type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderResponse acknowledges an accepted order. Processing continues
// asynchronously; the correlation id tracks it.
type CreateOrderResponse struct {
	CorrelationID string `json:"correlationId"`
}

// OrderStatusResponse is the transient workflow state of an order.
type OrderStatusResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	OrderID       int64  `json:"orderId,omitempty"`
}
