package bcode

// ErrOrderRequest the submitted order payload is malformed
var ErrOrderRequest = NewBcode(400, 11001, "invalid order request")

// ErrOrderAccept the order could not be accepted into the workflow
var ErrOrderAccept = NewBcode(503, 11002, "order could not be accepted, try again")

// ErrWorkflowStateUnavailable the transient store is unreachable
var ErrWorkflowStateUnavailable = NewBcode(503, 11003, "workflow state temporarily unavailable")

// ErrWorkflowStateNotFound no workflow state exists for the correlation id
var ErrWorkflowStateNotFound = NewBcode(404, 11004, "workflow state not found or expired")
