package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPayload marks an inbound message body that can never succeed on
// retry. The listener dead-letters it without requeue.
var ErrInvalidPayload = errors.New("invalid message payload")

// Message represents a queue message with its ID, raw payload and transport headers.
type Message struct {
	ID      string
	Payload []byte
	Headers map[string]string
}

// Queue abstracts a work queue with stream semantics (enqueue, group read, ack).
// One implementation exists per broker technology; the adapter is selected at
// startup from config, never probed at runtime.
type Queue interface {
	// EnsureGroup ensures the underlying stream and the specified consumer group exist.
	EnsureGroup(ctx context.Context, group string) error
	// Enqueue pushes a payload with transport headers to the stream and returns the message ID.
	Enqueue(ctx context.Context, payload []byte, headers map[string]string) (string, error)
	// ReadGroup reads messages for a consumer in a group.
	ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Message, error)
	// Ack acknowledges a processed message by ID.
	Ack(ctx context.Context, group string, ids ...string) error
	// AutoClaim claims stale pending messages (idle >= minIdle) to the given consumer and returns them.
	AutoClaim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Message, error)
	// Close releases any underlying resources.
	Close(ctx context.Context) error
	// Stats returns stream backlog size and pending count for a group.
	Stats(ctx context.Context, group string) (backlog int64, pending int64, err error)
}
