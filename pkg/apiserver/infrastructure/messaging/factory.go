package messaging

import (
	"fmt"
	"strings"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/clients"
)

// OpenQueue constructs the queue for a routing key based on config. The broker
// technology is fixed at startup; there is no runtime capability probing.
func OpenQueue(cfg *config.Config, routingKey string) (Queue, error) {
	name := cfg.QueueName(routingKey)
	switch strings.ToLower(cfg.Messaging.Type) {
	case "noop":
		return &NoopQueue{}, nil
	case "redis":
		rcli, err := clients.EnsureRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis client: %w", err)
		}
		return NewRedisStreamsWithClient(rcli, name, cfg.Messaging.RedisStreamMaxLen)
	case "kafka":
		return NewKafkaQueue(KafkaConfig{
			Brokers: cfg.Messaging.KafkaBrokers,
			Topic:   name,
			GroupID: name + ".workers",
		})
	default:
		return nil, fmt.Errorf("not support messaging type %s", cfg.Messaging.Type)
	}
}

// OpenDeadLetterQueue constructs the dead-letter companion of a routing key.
func OpenDeadLetterQueue(cfg *config.Config, routingKey string) (Queue, error) {
	return OpenQueue(cfg, routingKey+".dead")
}
