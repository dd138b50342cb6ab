// Package backplane is the pub/sub relay shared by all notifier instances, so
// a notification triggered on one instance reaches connections held by any
// other instance.
package backplane

import (
	"context"
)

// Broker is a pub/sub abstraction decoupling the realtime hub from the
// underlying messaging system. Implementations: Redis, Noop.
type Broker interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe subscribes to a topic and returns a subscription.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// Close releases any underlying resources.
	Close(ctx context.Context) error
}

// Subscription wraps a streaming subscription to a topic.
type Subscription interface {
	// C returns a channel that yields message payloads.
	C() <-chan []byte
	// Err returns a channel delivering terminal errors (optional; may be nil).
	Err() <-chan error
	// Unsubscribe cancels the subscription and frees resources.
	Unsubscribe(ctx context.Context) error
}
