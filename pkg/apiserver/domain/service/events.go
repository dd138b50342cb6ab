// Package service implements the three order workflow stages: accept, process
// and notify. Each stage is a broker consumer or producer wired together by
// the listener and publisher infrastructure.
package service

// OrderItemSpec is one requested line of an order.
type OrderItemSpec struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderSpec is the customer's order request as captured at acceptance.
type OrderSpec struct {
	CustomerID string          `json:"customerId"`
	Items      []OrderItemSpec `json:"items"`
}

// OrderAcceptedEvent announces an accepted order to the processing stage.
type OrderAcceptedEvent struct {
	CorrelationID string    `json:"correlationId"`
	Order         OrderSpec `json:"order"`
}

// OrderProcessedEvent announces a persisted order to the notification stage.
type OrderProcessedEvent struct {
	CorrelationID string `json:"correlationId"`
	OrderID       int64  `json:"orderId"`
}
