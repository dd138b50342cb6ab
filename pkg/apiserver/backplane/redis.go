package backplane

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker using Redis Pub/Sub.
type RedisBroker struct {
	cli *redis.Client
}

// NewRedisBrokerWithClient wraps a shared go-redis client. The caller owns
// the client's lifecycle.
func NewRedisBrokerWithClient(cli *redis.Client) *RedisBroker {
	return &RedisBroker{cli: cli}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.cli.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := b.cli.Subscribe(ctx, topic)
	ch := sub.Channel()
	out := make(chan []byte, 128)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				out <- []byte(msg.Payload)
			}
		}
	}()

	return &redisSub{sub: sub, out: out, errCh: errCh}, nil
}

func (b *RedisBroker) Close(ctx context.Context) error { return nil }

type redisSub struct {
	sub   *redis.PubSub
	out   chan []byte
	errCh chan error
}

func (s *redisSub) C() <-chan []byte                      { return s.out }
func (s *redisSub) Err() <-chan error                     { return s.errCh }
func (s *redisSub) Unsubscribe(ctx context.Context) error { return s.sub.Close() }
