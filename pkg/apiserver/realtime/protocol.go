package realtime

import "encoding/json"

// StatusCompleted is the status label carried by completion pushes. The
// client-facing label is mixed-case; the transient store keeps its own
// uppercase encoding.
const StatusCompleted = "Completed"

// Notification is the typed push message delivered to every live connection
// of a user when their order workflow completes.
type Notification struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	OrderID       int64  `json:"orderId,omitempty"`
}

// clientOp is a request frame sent by the browser over the realtime channel.
type clientOp struct {
	Op            string `json:"op"` // ping | registerOrder | getCurrentStatus
	CorrelationID string `json:"correlationId,omitempty"`
}

// serverFrame is a response or push frame sent to the browser.
type serverFrame struct {
	Type          string `json:"type"` // pong | registered | status | notification | error
	CorrelationID string `json:"correlationId,omitempty"`
	Status        string `json:"status,omitempty"`
	OrderID       int64  `json:"orderId,omitempty"`
	Absent        bool   `json:"absent,omitempty"`
	Message       string `json:"message,omitempty"`
}

// envelope is the backplane wire shape. Frame carries the fully rendered
// client frame so every instance delivers byte-identical payloads.
type envelope struct {
	UserID string          `json:"userId"`
	Frame  json.RawMessage `json:"frame"`
}
