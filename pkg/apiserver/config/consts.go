package config

// Workflow statuses as written to the transient store.
const (
	StatusAccepted   = "ACCEPTED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
)

// Routing keys of the saga's wire messages. Queue names are derived by
// prefixing with MessagingConfig.ChannelPrefix.
const (
	RouteOrderAccepted  = "orders.accepted"
	RouteOrderProcessed = "orders.processed"
)

// Consumer groups of the two worker stages.
const (
	DefaultConsumerGroup = "order-workers"
	NotifierGroup        = "notifier-workers"
)

// Transport header names carried on every broker message.
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderRetryCount    = "x-retry-count"
)
